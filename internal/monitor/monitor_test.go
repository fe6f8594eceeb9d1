package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuha.dev/whereabouts/internal/store"
)

func TestStatusEndpoint(t *testing.T) {
	st, err := store.Open(&store.StoreConfig{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Table:  "tracked",
		RowCap: 50,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.Insert(context.Background(), &store.TrackedIdentity{
		ID: "aaaaaaaa", Username: "alicealice", LastUpdate: 100, Created: 100,
	}))

	stats := &Stats{}
	stats.Connections.Add(7)
	stats.Reaped.Add(2)

	srv := httptest.NewServer(New("", st, stats).Handler())
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Identities  int64 `json:"identities"`
		Connections int64 `json:"connections"`
		Failures    int64 `json:"failures"`
		Reaped      int64 `json:"reaped"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.EqualValues(t, 1, body.Identities)
	assert.EqualValues(t, 7, body.Connections)
	assert.EqualValues(t, 0, body.Failures)
	assert.EqualValues(t, 2, body.Reaped)
}
