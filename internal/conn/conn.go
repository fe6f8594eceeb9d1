package conn

import (
	"bufio"
	"net"
	"time"

	"github.com/phuslu/log"
)

// Conn wraps an accepted socket with a buffered reader, a connection id
// and the socket 4-tuple for logging.
type Conn struct {
	cid   uint64
	tuple []string
	r     *bufio.Reader
	w     *bufio.Writer
	net.Conn
}

func NewConn(c net.Conn, cid uint64, bufsize int) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())

	return &Conn{
		cid:   cid,
		tuple: []string{sourceip, sourceport, targetip, targetport},
		r:     bufio.NewReaderSize(c, bufsize),
		w:     bufio.NewWriterSize(c, bufsize),
		Conn:  c,
	}
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *Conn) Flush() error {
	return c.w.Flush()
}

// ExtendReadDeadline pushes the read deadline out by d from now.
func (c *Conn) ExtendReadDeadline(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return c.Conn.SetReadDeadline(time.Now().Add(d))
}

// ExtendWriteDeadline pushes the write deadline out by d from now.
func (c *Conn) ExtendWriteDeadline(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return c.Conn.SetWriteDeadline(time.Now().Add(d))
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Strs("socket", c.tuple)
}
