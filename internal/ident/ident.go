package ident

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"nuha.dev/whereabouts/internal/store"
)

// ErrExhausted means minting kept colliding with stored ids. With an
// 8-char alphanumeric space this indicates a store problem, not bad luck.
var ErrExhausted = errors.New("could not mint a fresh id")

const maxAttempts = 100

type Minter struct {
	store  *store.Store
	length int
}

func NewMinter(st *store.Store, length int) *Minter {
	return &Minter{store: st, length: length}
}

// Mint generates an unused identity token. The existence check only
// makes collisions rare; the insert's unique constraint is the real
// guarantee against concurrent mints of the same id.
func (m *Minter) Mint(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		token, err := randomToken(m.length)
		if err != nil {
			return "", err
		}
		exists, err := m.store.IDExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", ErrExhausted
}

// randomToken fills n characters by rejection sampling random bytes
// against [A-Za-z0-9]. Rejection keeps the draw uniform; a modulo over
// the alphabet would not be.
func randomToken(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if alnum(b) {
				out = append(out, b)
				if len(out) == n {
					break
				}
			}
		}
	}
	return string(out), nil
}

func alnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
