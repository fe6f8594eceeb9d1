package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"nuha.dev/whereabouts/internal/config"
	"nuha.dev/whereabouts/internal/geo"
	"nuha.dev/whereabouts/internal/ident"
	"nuha.dev/whereabouts/internal/store"
	"nuha.dev/whereabouts/internal/wire"
)

// Service parses, validates and executes the three protocol commands.
// One Dispatch call is one complete command from the caller's view.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	resolver geo.Resolver
	minter   *ident.Minter
	log      log.Logger
	*validator.Validate

	// now is swapped in tests.
	now func() time.Time
}

func New(cfg *config.Config, st *store.Store, resolver geo.Resolver, minter *ident.Minter) *Service {
	s := &Service{cfg: cfg, store: st, resolver: resolver, minter: minter, Validate: validator.New()}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "service").Value()
	s.now = time.Now
	return s
}

// Dispatch executes one framed request. The returned value, when
// non-nil, is the response envelope to send; Update never produces one.
// A returned error is fatal to the connection.
func (s *Service) Dispatch(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errProtocol("request is not a JSON object: %v", err)
	}
	if len(envelope) != 1 {
		return nil, errProtocol("request must hold exactly one command key, got %d", len(envelope))
	}
	for key, payload := range envelope {
		switch key {
		case wire.CmdUpdate:
			return nil, s.update(ctx, payload)
		case wire.CmdQuery:
			return s.query(ctx, payload)
		case wire.CmdCreate:
			return s.create(ctx, payload)
		default:
			return nil, errProtocol("unknown command %q", key)
		}
	}
	return nil, errProtocol("empty request")
}

// decodeStrict rejects unknown fields and trailing garbage; payload
// shape deviations are parse failures, not best-effort reads.
func decodeStrict(payload json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after payload")
	}
	return nil
}

func (s *Service) update(ctx context.Context, payload json.RawMessage) error {
	req := wire.UpdatePayload{}
	if err := decodeStrict(payload, &req); err != nil {
		return errValidation("bad update payload: %v", err)
	}
	if err := s.Struct(&req); err != nil {
		return errValidation("bad update payload: %v", err)
	}
	if (req.GPS == nil) == (req.APs == nil) {
		return errValidation("update needs exactly one of gps or aps")
	}

	if s.cfg.UpdateNeedsID {
		exists, err := s.store.IDExists(ctx, req.ID)
		if err != nil {
			return errStore(err)
		}
		if !exists {
			return errExistence("unknown id %q", req.ID)
		}
	}

	var title string
	if req.GPS != nil {
		title = s.resolver.ResolveByPoint(req.GPS.Lat, req.GPS.Lon)
	} else {
		bssids := make([]string, len(req.APs))
		for i, ap := range req.APs {
			bssids[i] = ap.BSSID
		}
		title = s.resolver.ResolveByFingerprints(bssids)
	}

	ts := s.now().Unix()
	ok, err := s.store.UpdateLocation(ctx, req.ID, title, ts)
	if err != nil {
		return errStore(err)
	}
	if !ok {
		if s.cfg.UpdateNeedsID {
			return errExistence("unknown id %q", req.ID)
		}
		// Id checks are off: an update for an unregistered id is a no-op.
		s.log.Warn().Str("id", req.ID).Msg("update for unregistered id dropped")
		return nil
	}
	s.log.Info().Str("id", req.ID).Str("location", title).Int64("ts", ts).Msg("location updated")
	return nil
}

// query answers with rows or with the fixed empty response. Malformed
// payloads and unknown requesters are indistinguishable from "nothing
// found" on purpose; only storage failures escape.
func (s *Service) query(ctx context.Context, payload json.RawMessage) (*wire.QueryResponse, error) {
	req := wire.QueryPayload{}
	if err := decodeStrict(payload, &req); err != nil {
		s.log.Debug().Err(err).Msg("malformed query payload")
		return wire.EmptyQueryResponse(), nil
	}

	if req.ID == "" {
		return wire.EmptyQueryResponse(), nil
	}
	known, err := s.store.IDExists(ctx, req.ID)
	if err != nil {
		return nil, errStore(err)
	}
	if !known {
		s.log.Debug().Str("id", req.ID).Msg("query from unknown requester")
		return wire.EmptyQueryResponse(), nil
	}

	selectors := 0
	if req.Location != nil {
		selectors++
	}
	if req.Usernames != nil {
		selectors++
	}
	if req.Special != nil {
		selectors++
	}
	if selectors != 1 {
		return wire.EmptyQueryResponse(), nil
	}

	var rows []store.TrackedIdentity
	switch {
	case req.Location != nil:
		rows, err = s.store.FetchByLocation(ctx, *req.Location)
	case req.Usernames != nil:
		rows, err = s.store.FetchByUsernames(ctx, req.Usernames)
	default:
		if *req.Special != wire.SpecialAll || !s.cfg.QueryAllEnabled {
			return wire.EmptyQueryResponse(), nil
		}
		rows, err = s.store.FetchAll(ctx)
	}
	if err != nil {
		return nil, errStore(err)
	}

	res := wire.EmptyQueryResponse()
	for _, row := range rows {
		res.Rows = append(res.Rows, wire.QueryRow{
			Username:   row.Username,
			Location:   row.Location,
			LastUpdate: strconv.FormatInt(row.LastUpdate, 10),
		})
	}
	return res, nil
}

func (s *Service) create(ctx context.Context, payload json.RawMessage) (*wire.CreateResponse, error) {
	req := wire.CreatePayload{}
	if err := decodeStrict(payload, &req); err != nil {
		return nil, errValidation("bad create payload: %v", err)
	}

	// First violation wins and is reported verbatim.
	if reason := s.checkUsername(req.User); reason != "" {
		return wire.CreateError(reason), nil
	}
	taken, err := s.store.UsernameExists(ctx, req.User)
	if err != nil {
		return nil, errStore(err)
	}
	if taken {
		return wire.CreateError("username already registered"), nil
	}

	id, err := s.minter.Mint(ctx)
	if err != nil {
		return nil, errStore(err)
	}
	now := s.now().Unix()
	row := &store.TrackedIdentity{ID: id, Username: req.User, Location: "", LastUpdate: now, Created: now}
	if err := s.store.Insert(ctx, row); err != nil {
		// A concurrent create won the username (or, astronomically, the
		// id) between the checks and this insert.
		if errors.Is(err, store.ErrDuplicate) {
			return wire.CreateError("username already registered"), nil
		}
		return nil, errStore(err)
	}
	s.log.Info().Str("id", id).Str("username", req.User).Msg("identity created")
	return wire.CreateOK(id), nil
}

func (s *Service) checkUsername(username string) string {
	if len(username) < s.cfg.UsernameMinLen || len(username) > s.cfg.UsernameMaxLen {
		return fmt.Sprintf("username length must be between %d and %d characters",
			s.cfg.UsernameMinLen, s.cfg.UsernameMaxLen)
	}
	for _, r := range username {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return "username must contain only letters and digits"
		}
	}
	return ""
}
