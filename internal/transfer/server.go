package transfer

import (
	"net"

	"github.com/canonical/dcxfer/internal/dclog"
)

// Server accepts C4 connections. Per spec.md §5, the transfer server is the
// one daemon with internal concurrency: it "forks a child per accepted
// connection (the parent returns to accept)". This port spawns a goroutine
// per connection rather than an OS fork — each goroutine owns its
// connection exclusively and shares no mutable state with the accept loop,
// preserving the single-writer-per-session property an OS-level fork would
// have given for free.
type Server struct {
	ln  net.Listener
	log *dclog.Logger
}

// Listen binds addr and returns a ready-to-serve Server.
func Listen(addr string, log *dclog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, log: log}, nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Addr returns the server's bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections forever, invoking handle for each in its own
// goroutine, until the listener is closed.
func (s *Server) Serve(handle func(*Conn)) error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return err
		}

		go func() {
			defer nc.Close()
			handle(NewConn(nc))
		}()
	}
}
