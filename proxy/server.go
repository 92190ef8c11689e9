package proxy

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/coreslot/vkcproxy/fnet"
	"github.com/golang/glog"
)

// Server is the client-facing accept loop. Out of the spec's core C1-C9
// scope (spec.md §1), it is the ambient piece that actually turns the
// dispatcher into a running proxy: one goroutine per accepted
// connection, each running its own Session (spec.md §5).
type Server struct {
	Addr       string
	Dispatcher *Dispatcher

	nextClientID int64
	listener     net.Listener
}

// NewServer builds a server bound to addr (not yet listening).
func NewServer(addr string, d *Dispatcher) *Server {
	return &Server{Addr: addr, Dispatcher: d}
}

// ListenAndServe opens the listener with the proxy's socket tuning
// (SO_REUSEPORT/TCP_DEFER_ACCEPT, spec.md §6) and accepts
// connections until the listener is closed.
func (s *Server) ListenAndServe() error {
	lc := net.ListenConfig{
		Control: fnet.ApplySocketOptions(&fnet.ListenConfig{
			SocketReusePort:   true,
			SocketDeferAccept: true,
		}),
	}
	ln, err := lc.Listen(context.Background(), "tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	glog.Infof("server: listening on %s", s.Addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		clientID := atomic.AddInt64(&s.nextClientID, 1)
		sess := NewSession(conn, s.Dispatcher, clientID)
		go sess.Serve()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
