package monitor

import "sync/atomic"

// Stats holds process counters shared by the server, the reaper and the
// status endpoint.
type Stats struct {
	Connections atomic.Int64
	Failures    atomic.Int64
	Reaped      atomic.Int64
}
