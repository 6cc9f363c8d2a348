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

package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/apistream/streambridge/internal/auth"
	"github.com/apistream/streambridge/internal/registry"
	"github.com/apistream/streambridge/pkg/core"
	"github.com/apistream/streambridge/pkg/envelope"
	"github.com/apistream/streambridge/pkg/schema"
)

// Dispatcher re-enters a locally constructed message through the broker
// fan-out path. Implemented by the broker bridge.
type Dispatcher interface {
	Inject(env *envelope.Envelope, raw []byte)
}

// conn is the subset of *websocket.Conn the session uses; tests stub it.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session handles one WebSocket connection. It owns its socket
// exclusively; the only shared state it touches is the registry, and
// only through the registry's compound operations.
type Session struct {
	id     string
	ip     string
	userID string

	conn       conn
	registry   *registry.Registry
	guard      *auth.Guard
	verifier   envelope.Verifier
	dispatcher Dispatcher
	schemas    schema.Table
	logger     *slog.Logger

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(c conn, ip string, deps *Server) *Session {
	id := uuid.New().String()
	return &Session{
		id:         id,
		ip:         ip,
		conn:       c,
		registry:   deps.registry,
		guard:      deps.guard,
		verifier:   deps.verifier,
		dispatcher: deps.dispatcher,
		schemas:    deps.schemas,
		logger:     deps.logger.With("session_id", id, "ip", ip),
		outbound:   make(chan []byte, deps.cfg.OutboundQueueSize),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// SetUser attaches an authenticated user identity. Pings from a session
// with a user identity are fanned out to that user's pong topic.
func (s *Session) SetUser(userID string) { s.userID = userID }

// Send queues a raw message for delivery without blocking; the broker
// loop must never stall on a slow client. False means dropped.
func (s *Session) Send(msg []byte) bool {
	select {
	case s.outbound <- msg:
		return true
	default:
		return false
	}
}

// run services the connection until it closes. The writer goroutine
// drains the outbound queue so reads and writes never block each other.
func (s *Session) run() {
	defer s.close()

	go s.writeLoop()

	s.logger.Info("client connected")
	s.sendFrame(core.OpenFrame{
		Method:  core.MethodOpen,
		Now:     time.Now().Unix(),
		Schemas: s.schemas,
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "error", err)
			}
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbound:
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Warn("write failed", "error", err)
				// Unblock the read loop; close is idempotent.
				s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) handleMessage(msg []byte) {
	// Size ceiling applies before any parsing.
	if len(msg) > core.MaxClientMessage {
		s.logger.Info("rejected message: too large", "size", len(msg))
		s.sendError(core.ReasonInvalidData)
		return
	}

	env, err := s.verifier.Verify(msg)
	if err != nil {
		s.logger.Info("rejected message: bad envelope", "error", err)
		s.sendError(core.ReasonInvalidData)
		return
	}
	if env.Method == "" {
		s.sendError(core.ReasonUnknownMessage)
		return
	}

	switch env.Method {
	case core.MethodGet:
		s.handleGet(env, msg)
	case core.MethodPing:
		s.handlePing()
	default:
		s.logger.Info("unknown message method", "method", env.Method)
		s.sendError(core.ReasonUnknownMessage)
	}
}

func (s *Session) handleGet(env *envelope.Envelope, raw []byte) {
	if env.Model == "" {
		s.sendError(core.ReasonUnknownMessage)
		return
	}
	if err := s.guard.Allowed(raw); err != nil {
		s.logger.Info("subscribe rejected", "model", env.Model, "error", err)
		s.sendError(core.ReasonBadCredentials)
		return
	}
	topic := env.Topic()
	s.registry.Add(s, []string{topic})
	s.logger.Info("listener added", "topic", topic)
}

// handlePing answers a ping. An anonymous session gets a pong on its
// own socket only; a session with a user identity re-enters the pong
// through the broker dispatch path so that every session subscribed to
// that user's pong topic receives it.
func (s *Session) handlePing() {
	if s.userID == "" {
		s.sendFrame(core.PongFrame{Method: core.MethodPong})
		return
	}
	frame := core.PongFrame{Method: core.MethodPong, For: s.userID}
	raw, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("marshal pong failed", "error", err)
		return
	}
	s.dispatcher.Inject(&envelope.Envelope{
		Method:   core.MethodPong,
		Model:    core.PongModel,
		ID:       s.userID,
		IssuedAt: time.Now(),
	}, raw)
}

func (s *Session) sendFrame(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("marshal frame failed", "error", err)
		return
	}
	if !s.Send(data) {
		s.logger.Warn("outbound queue full, frame dropped")
	}
}

func (s *Session) sendError(reason string) {
	s.sendFrame(core.NewErrorFrame(reason))
}

// close tears the session down exactly once: the registry entry is
// removed and the socket closed. Safe to call concurrently.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.registry.Delete(s)
		s.logger.Info("client disconnected")
	})
}
