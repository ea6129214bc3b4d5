// Package api exposes the engine's control surface over a unix socket.
// The operator CLI is its only intended client.
package api

import (
	"context"
	"net"
	"net/http"
)

// Server wraps the HTTP server bound to the control socket.
type Server struct {
	*http.Server
	sockFile string
}

type Option func(*Server)

func NewServer(options ...Option) *Server {
	srv := &Server{
		Server: &http.Server{},
	}
	for _, o := range options {
		o(srv)
	}
	return srv
}

func WithSockFile(sockFile string) Option {
	return func(s *Server) {
		s.sockFile = sockFile
	}
}

func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.BaseContext = func(net.Listener) context.Context { return ctx }
	}
}

func WithHandler(mux *http.ServeMux) Option {
	return func(s *Server) {
		s.Handler = mux
	}
}
