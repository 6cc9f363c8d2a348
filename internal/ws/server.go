// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package ws accepts WebSocket subscribers and runs one session per
// connection.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apistream/streambridge/internal/auth"
	"github.com/apistream/streambridge/internal/registry"
	"github.com/apistream/streambridge/pkg/config"
	"github.com/apistream/streambridge/pkg/envelope"
	"github.com/apistream/streambridge/pkg/schema"
)

type Server struct {
	cfg        config.ServerConfig
	upgrader   websocket.Upgrader
	registry   *registry.Registry
	guard      *auth.Guard
	verifier   envelope.Verifier
	dispatcher Dispatcher
	schemas    schema.Table
	server     *http.Server
	logger     *slog.Logger
}

func NewServer(
	cfg config.ServerConfig,
	reg *registry.Registry,
	guard *auth.Guard,
	verifier envelope.Verifier,
	dispatcher Dispatcher,
	schemas schema.Table,
	logger *slog.Logger,
) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry:   reg,
		guard:      guard,
		verifier:   verifier,
		dispatcher: dispatcher,
		schemas:    schemas,
		logger:     logger,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConnection)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("websocket server starting", "port", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "error", err)
		return
	}

	// Behind a proxy this should be the forwarded client address; the
	// deployment is expected to rewrite RemoteAddr accordingly.
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	sess := newSession(c, ip, s)
	sess.run()
}
