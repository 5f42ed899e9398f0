// SPDX-License-Identifier: MIT

package control

import (
	"context"
	"net"
	"os"

	"github.com/tomtom215/svctl/internal/engine"
	"github.com/tomtom215/svctl/internal/util"
)

// Server owns the control listener's accept loop. It binds synchronously
// in NewServer so a bind failure (bad endpoint, path already exists) is
// reported to the caller immediately, mirroring the health package's
// ListenAndServeReady pattern.
type Server struct {
	ln     net.Listener
	sup    *engine.Supervisor
	logger Logger
}

// NewServer binds endpoint and returns a Server ready to Serve.
func NewServer(endpoint string, sup *engine.Supervisor, logger Logger) (*Server, error) {
	ln, err := Listen(endpoint)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debugf("control listener bound to %s", ln.Addr())
	}
	return &Server{ln: ln, sup: sup, logger: logger}, nil
}

// Addr returns the bound address, primarily useful in tests that bind
// to an ephemeral TCP port.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled, spawning one
// goroutine per connection via serveSession. Every session funnels its
// state mutations through sup's public API onto the single loop
// goroutine, so concurrent sessions never race on service records.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		c := conn
		util.SafeGo("control-session:"+c.RemoteAddr().String(), os.Stderr, func() {
			serveSession(c, s.sup, s.logger)
		}, nil)
	}
}

// Close releases the listener without waiting for ctx cancellation;
// used by callers that built a Server but never called Serve.
func (s *Server) Close() error {
	return s.ln.Close()
}
