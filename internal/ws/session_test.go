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
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/apistream/streambridge/internal/auth"
	"github.com/apistream/streambridge/internal/registry"
	"github.com/apistream/streambridge/pkg/config"
	"github.com/apistream/streambridge/pkg/envelope"
	"github.com/apistream/streambridge/pkg/schema"
)

// fakeConn is an in-memory stand-in for *websocket.Conn.
type fakeConn struct {
	in     chan []byte
	mu     sync.Mutex
	writes [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.in:
		return 1, msg, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return io.EOF
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// mapVerifier resolves raw bytes to canned envelopes.
type mapVerifier struct {
	mu    sync.Mutex
	envs  map[string]*envelope.Envelope
	calls int
}

func newMapVerifier() *mapVerifier {
	return &mapVerifier{envs: make(map[string]*envelope.Envelope)}
}

func (m *mapVerifier) put(raw string, env *envelope.Envelope) {
	m.envs[raw] = env
}

func (m *mapVerifier) Verify(raw []byte) (*envelope.Envelope, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if env, ok := m.envs[string(raw)]; ok {
		return env, nil
	}
	return nil, envelope.ErrMalformed
}

func (m *mapVerifier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingDispatcher captures Inject calls.
type recordingDispatcher struct {
	mu   sync.Mutex
	envs []*envelope.Envelope
	raws [][]byte
}

func (d *recordingDispatcher) Inject(env *envelope.Envelope, raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envs = append(d.envs, env)
	d.raws = append(d.raws, raw)
}

func testSchemas() schema.Table {
	return schema.Table{
		"coin": {
			Routes: map[string]map[string][]string{
				schema.RouteCollection: {"GET": {"authenticate"}},
				schema.RouteItem:       {"GET": {"authenticate"}},
			},
		},
	}
}

type harness struct {
	conn       *fakeConn
	verifier   *mapVerifier
	registry   *registry.Registry
	dispatcher *recordingDispatcher
	session    *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	verifier := newMapVerifier()
	reg := registry.New()
	disp := &recordingDispatcher{}
	srv := NewServer(
		config.ServerConfig{Port: 0, OutboundQueueSize: 8},
		reg,
		auth.NewGuard(verifier, testSchemas(), logger),
		verifier,
		disp,
		testSchemas(),
		logger,
	)
	fc := newFakeConn()
	sess := newSession(fc, "127.0.0.1", srv)
	go sess.run()
	t.Cleanup(sess.close)
	return &harness{conn: fc, verifier: verifier, registry: reg, dispatcher: disp, session: sess}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func (h *harness) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	waitFor(t, func() bool { return len(h.conn.frames()) >= n })
	return h.conn.frames()
}

func decodeFrame(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("undecodable frame %q: %v", data, err)
	}
	return m
}

func TestOpenFrameSentFirst(t *testing.T) {
	h := newHarness(t)
	frames := h.waitFrames(t, 1)
	open := decodeFrame(t, frames[0])
	if open["method"] != "open" {
		t.Fatalf("expected open frame first, got %v", open)
	}
	if _, ok := open["now"]; !ok {
		t.Fatal("expected now field in open frame")
	}
	if _, ok := open["schemas"]; !ok {
		t.Fatal("expected schemas echoed in open frame")
	}
}

func TestOversizedMessageRejectedBeforeParse(t *testing.T) {
	h := newHarness(t)
	h.waitFrames(t, 1)
	before := h.verifier.callCount()

	h.conn.in <- bytes.Repeat([]byte("a"), 1025)

	frames := h.waitFrames(t, 2)
	errFrame := decodeFrame(t, frames[1])
	if errFrame["method"] != "error" || errFrame["reason"] != "invalid data" {
		t.Fatalf("expected invalid data error, got %v", errFrame)
	}
	if h.verifier.callCount() != before {
		t.Fatal("expected oversized message never to reach the verifier")
	}
}

func TestUnverifiableMessageRejected(t *testing.T) {
	h := newHarness(t)
	h.waitFrames(t, 1)

	h.conn.in <- []byte("garbage")

	frames := h.waitFrames(t, 2)
	errFrame := decodeFrame(t, frames[1])
	if errFrame["reason"] != "invalid data" {
		t.Fatalf("expected invalid data, got %v", errFrame)
	}
}

func TestMissingMethodRejected(t *testing.T) {
	h := newHarness(t)
	h.verifier.put("no-method", &envelope.Envelope{Model: "coin"})
	h.waitFrames(t, 1)

	h.conn.in <- []byte("no-method")

	frames := h.waitFrames(t, 2)
	errFrame := decodeFrame(t, frames[1])
	if errFrame["reason"] != "unknown message" {
		t.Fatalf("expected unknown message, got %v", errFrame)
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	h := newHarness(t)
	h.verifier.put("weird", &envelope.Envelope{Method: "DELETE", Model: "coin"})
	h.waitFrames(t, 1)

	h.conn.in <- []byte("weird")

	frames := h.waitFrames(t, 2)
	errFrame := decodeFrame(t, frames[1])
	if errFrame["reason"] != "unknown message" {
		t.Fatalf("expected unknown message, got %v", errFrame)
	}
}

func TestGetWithoutModelRejected(t *testing.T) {
	h := newHarness(t)
	h.verifier.put("get-nothing", &envelope.Envelope{Method: "GET"})
	h.waitFrames(t, 1)

	h.conn.in <- []byte("get-nothing")

	frames := h.waitFrames(t, 2)
	errFrame := decodeFrame(t, frames[1])
	if errFrame["reason"] != "unknown message" {
		t.Fatalf("expected unknown message, got %v", errFrame)
	}
}

func TestGetUnknownModelAuthFails(t *testing.T) {
	// A model absent from the schema table fails authorization, not
	// parsing: the client sees bad credentials.
	h := newHarness(t)
	h.verifier.put("get-stamp", &envelope.Envelope{Method: "GET", Model: "stamp"})
	h.waitFrames(t, 1)

	h.conn.in <- []byte("get-stamp")

	frames := h.waitFrames(t, 2)
	errFrame := decodeFrame(t, frames[1])
	if errFrame["reason"] != "bad credentials" {
		t.Fatalf("expected bad credentials, got %v", errFrame)
	}
}

func TestGetAddsListener(t *testing.T) {
	h := newHarness(t)
	h.verifier.put("get-coin", &envelope.Envelope{Method: "GET", Model: "coin", ID: "1337"})
	h.waitFrames(t, 1)

	h.conn.in <- []byte("get-coin")

	waitFor(t, func() bool {
		return len(h.registry.Matching([]string{"coin_id_1337"})) == 1
	})
	if len(h.conn.frames()) != 1 {
		t.Fatalf("expected no error frame, got %d frames", len(h.conn.frames()))
	}
}

func TestPingAnonymousPongsDirectly(t *testing.T) {
	h := newHarness(t)
	h.verifier.put("ping", &envelope.Envelope{Method: "ping"})
	h.waitFrames(t, 1)

	h.conn.in <- []byte("ping")

	frames := h.waitFrames(t, 2)
	pong := decodeFrame(t, frames[1])
	if pong["method"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}
	if _, ok := pong["for"]; ok {
		t.Fatal("anonymous pong must not carry a for field")
	}
	if len(h.dispatcher.envs) != 0 {
		t.Fatal("anonymous pong must not enter the dispatch path")
	}
}

func TestPingAuthenticatedFansOut(t *testing.T) {
	h := newHarness(t)
	h.verifier.put("ping", &envelope.Envelope{Method: "ping"})
	h.session.SetUser("42")
	h.waitFrames(t, 1)

	h.conn.in <- []byte("ping")

	waitFor(t, func() bool {
		h.dispatcher.mu.Lock()
		defer h.dispatcher.mu.Unlock()
		return len(h.dispatcher.envs) == 1
	})
	env := h.dispatcher.envs[0]
	if env.Model != "pong" || env.ID != "42" {
		t.Fatalf("expected pong_id_42 dispatch, got %+v", env)
	}
	pong := decodeFrame(t, h.dispatcher.raws[0])
	if pong["method"] != "pong" || pong["for"] != "42" {
		t.Fatalf("expected pong for 42, got %v", pong)
	}
}

func TestCloseDeletesListenerOnce(t *testing.T) {
	h := newHarness(t)
	h.verifier.put("get-coin", &envelope.Envelope{Method: "GET", Model: "coin"})
	h.waitFrames(t, 1)

	h.conn.in <- []byte("get-coin")
	waitFor(t, func() bool { return h.registry.Len() == 1 })

	h.session.close()
	h.session.close()
	if h.registry.Len() != 0 {
		t.Fatal("expected registry entry removed on close")
	}
}

func TestSendNonBlockingWhenFull(t *testing.T) {
	h := newHarness(t)
	h.waitFrames(t, 1)
	h.session.close()

	// With the writer stopped the queue eventually fills; Send must
	// report the drop instead of blocking.
	dropped := false
	for i := 0; i < 64; i++ {
		if !h.session.Send([]byte("x")) {
			dropped = true
			break
		}
	}
	if !dropped {
		t.Fatal("expected Send to drop once the queue is full")
	}
}

func TestVerifierErrorKinds(t *testing.T) {
	// The distinction feeding invalid-data vs unknown-message depends
	// on envelope errors staying distinguishable.
	if errors.Is(envelope.ErrMalformed, envelope.ErrSignature) {
		t.Fatal("envelope error kinds must be distinct")
	}
}
