package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"

	"nuha.dev/whereabouts/internal/config"
	"nuha.dev/whereabouts/internal/conn"
	"nuha.dev/whereabouts/internal/monitor"
	"nuha.dev/whereabouts/internal/service"
	"nuha.dev/whereabouts/internal/wire"
)

const (
	NEW_CONNECTION   string = "new_connection"
	REQUEST_HANDLED  string = "request_handled"
	REQUEST_FAILED   string = "request_failed"
	CONNS_SATURATED  string = "conns_saturated"
	LISTENER_STOPPED string = "listener_stopped"
)

// Server accepts connections and drives exactly one request/response
// round-trip per connection through the dispatcher.
type Server struct {
	mu          sync.Mutex
	log         log.Logger
	cfg         *config.Config
	svc         *service.Service
	stats       *monitor.Stats
	cid_counter uint64
	listener    net.Listener
	sem         chan struct{}
}

func New(cfg *config.Config, svc *service.Service, stats *monitor.Stats) *Server {
	s := &Server{cfg: cfg, svc: svc, stats: stats}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "server").Value()
	if cfg.MaxConns > 0 {
		s.sem = make(chan struct{}, cfg.MaxConns)
	}
	return s
}

// Run listens and serves until the listener fails or Close is called.
func (s *Server) Run() error {
	s.log.Info().Msgf("starting whereabouts server on %s", s.cfg.ListenAddr)
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	if s.cfg.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		_c, err := ln.Accept()
		if err != nil {
			s.log.Error().Err(err).Str("event", LISTENER_STOPPED).Msg("failed to accept new connection")
			ln.Close()
			return err
		}
		s.mu.Lock()
		s.cid_counter++
		cid := s.cid_counter
		s.mu.Unlock()

		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			default:
				s.log.Warn().Str("event", CONNS_SATURATED).Msg("connection limit reached, dropping")
				_c.Close()
				continue
			}
		}

		c := conn.NewConn(_c, cid, s.cfg.ConnBufferSize)
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
		go s.handle(c)
	}
}

// Addr reports the bound address, for tests that listen on ":0".
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handle is the per-connection failure boundary. Whatever goes wrong in
// here is logged and closes this socket only.
func (s *Server) handle(c *conn.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().EmbedObject(c).Msgf("panic in connection handler: %v", r)
		}
		c.Close()
		if s.sem != nil {
			<-s.sem
		}
	}()

	if err := c.ExtendReadDeadline(s.cfg.ReadTimeout()); err != nil {
		s.log.Error().Err(err).EmbedObject(c).Msg("setting read deadline")
		return
	}

	raw, err := wire.ReadFrame(c, s.cfg.MaxUploadBytes)
	if err != nil {
		s.logFailure(c, "protocol", err)
		return
	}

	res, err := s.svc.Dispatch(context.Background(), raw)
	if err != nil {
		cat := "internal"
		var serr *service.Error
		if errors.As(err, &serr) {
			cat = string(serr.Cat)
		}
		s.logFailure(c, cat, err)
		return
	}

	if res != nil {
		if err := c.ExtendWriteDeadline(s.cfg.WriteTimeout()); err != nil {
			s.log.Error().Err(err).EmbedObject(c).Msg("setting write deadline")
			return
		}
		if err := wire.WriteFrame(c, res); err != nil {
			s.logFailure(c, "protocol", err)
			return
		}
		if err := c.Flush(); err != nil {
			s.logFailure(c, "protocol", err)
			return
		}
	}
	s.stats.Connections.Add(1)
	s.log.Info().Str("event", REQUEST_HANDLED).EmbedObject(c).Msg("")
}

func (s *Server) logFailure(c *conn.Conn, category string, err error) {
	s.stats.Failures.Add(1)
	s.log.Error().Str("event", REQUEST_FAILED).Str("category", category).Err(err).EmbedObject(c).Msg("")
}
