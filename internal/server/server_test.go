package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuha.dev/whereabouts/internal/config"
	"nuha.dev/whereabouts/internal/geo"
	"nuha.dev/whereabouts/internal/ident"
	"nuha.dev/whereabouts/internal/monitor"
	"nuha.dev/whereabouts/internal/service"
	"nuha.dev/whereabouts/internal/store"
	"nuha.dev/whereabouts/internal/wire"
)

const testDirectory = `{
	"places": [
		{
			"title": "Library",
			"region": {"lat_min": 0.0, "lat_max": 2.0, "lon_min": 1.0, "lon_max": 3.0},
			"aps": ["AA:BB:CC:00:00:01"]
		}
	]
}`

func testConfig() *config.Config {
	return &config.Config{
		ListenAddr:      "127.0.0.1:0",
		ConnBufferSize:  4096,
		MaxConns:        16,
		MaxUploadBytes:  8192,
		ReadTimeoutSec:  5,
		WriteTimeoutSec: 5,
		UsernameMinLen:  8,
		UsernameMaxLen:  32,
		IDLength:        8,
		MaxQueryRows:    50,
		QueryAllEnabled: true,
		UpdateNeedsID:   true,
		UnknownTitle:    "unknown",
	}
}

func startServer(t *testing.T, cfg *config.Config) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(&store.StoreConfig{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Table:  "tracked",
		RowCap: cfg.MaxQueryRows,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir, err := geo.ParseDirectory([]byte(testDirectory))
	require.NoError(t, err)
	svc := service.New(cfg, st, geo.NewResolver(dir, cfg.UnknownTitle), ident.NewMinter(st, cfg.IDLength))

	srv := New(cfg, svc, &monitor.Stats{})
	go srv.Run()
	t.Cleanup(func() { srv.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv, st
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(3*time.Second)))
	return c
}

// roundTrip sends one request frame and decodes the single response.
func roundTrip(t *testing.T, srv *Server, req string) json.RawMessage {
	t.Helper()
	c := dial(t, srv)
	require.NoError(t, wire.WriteFrame(c, json.RawMessage(req)))
	raw, err := wire.ReadFrame(c, 1<<20)
	require.NoError(t, err)
	return raw
}

// sendExpectSilence sends one request frame and asserts the server
// closes without answering.
func sendExpectSilence(t *testing.T, srv *Server, req string) {
	t.Helper()
	c := dial(t, srv)
	require.NoError(t, wire.WriteFrame(c, json.RawMessage(req)))
	buf := make([]byte, 1)
	_, err := c.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEndToEndScenario(t *testing.T) {
	srv, _ := startServer(t, testConfig())

	// Create.
	raw := roundTrip(t, srv, `{"Create":{"user":"alicealice"}}`)
	var created wire.CreateResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Empty(t, created.Create.Error)
	require.Len(t, created.Create.ID, 8)
	id := created.Create.ID

	// Update with a GPS fix inside the Library region; no response.
	sendExpectSilence(t, srv, `{"Update":{"id":"`+id+`","gps":{"lat":1.0,"lon":2.0}}}`)

	// Query by place finds the freshly updated identity.
	raw = roundTrip(t, srv, `{"Query":{"id":"`+id+`","location":"Library"}}`)
	var queried wire.QueryResponse
	require.NoError(t, json.Unmarshal(raw, &queried))
	require.Len(t, queried.Rows, 1)
	assert.Equal(t, "alicealice", queried.Rows[0].Username)
	assert.Equal(t, "Library", queried.Rows[0].Location)
	assert.NotEmpty(t, queried.Rows[0].LastUpdate)
}

func TestCreateErrorStillAnswers(t *testing.T) {
	srv, _ := startServer(t, testConfig())

	raw := roundTrip(t, srv, `{"Create":{"user":"nope"}}`)
	var created wire.CreateResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Contains(t, created.Create.Error, "length")
}

func TestUpdateUnknownIDClosesSilently(t *testing.T) {
	srv, st := startServer(t, testConfig())

	sendExpectSilence(t, srv, `{"Update":{"id":"nosuchid","gps":{"lat":1.0,"lon":2.0}}}`)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOversizeFrameClosesBeforeBody(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	c := dial(t, srv)

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 1<<30)
	_, err := c.Write(header[:])
	require.NoError(t, err)

	// The server must hang up without ever asking for the body.
	buf := make([]byte, 1)
	_, err = c.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMalformedJSONCloses(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	c := dial(t, srv)

	body := []byte(`{"Update":`)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	_, err := c.Write(append(header[:], body...))
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = c.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnectionClosesAfterResponse(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	c := dial(t, srv)

	require.NoError(t, wire.WriteFrame(c, json.RawMessage(`{"Create":{"user":"alicealice"}}`)))
	_, err := wire.ReadFrame(c, 1<<20)
	require.NoError(t, err)

	// No keep-alive: a second request on the same socket goes nowhere.
	buf := make([]byte, 1)
	_, err = c.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConcurrentCreatesOneWinner(t *testing.T) {
	srv, st := startServer(t, testConfig())

	const attempts = 8
	results := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			c, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				results <- "dial error"
				return
			}
			defer c.Close()
			c.SetDeadline(time.Now().Add(3 * time.Second))
			if err := wire.WriteFrame(c, json.RawMessage(`{"Create":{"user":"contested01"}}`)); err != nil {
				results <- "write error"
				return
			}
			raw, err := wire.ReadFrame(c, 1<<20)
			if err != nil {
				results <- "read error"
				return
			}
			var res wire.CreateResponse
			if err := json.Unmarshal(raw, &res); err != nil {
				results <- "decode error"
				return
			}
			if res.Create.ID != "" {
				results <- "ok"
			} else {
				results <- "rejected"
			}
		}()
	}

	okCount := 0
	for i := 0; i < attempts; i++ {
		switch <-results {
		case "ok":
			okCount++
		case "rejected":
		default:
			t.Fatal("unexpected transport failure during concurrent creates")
		}
	}
	assert.Equal(t, 1, okCount, "exactly one create wins the username")

	rows, err := st.FetchByUsernames(context.Background(), []string{"contested01"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
