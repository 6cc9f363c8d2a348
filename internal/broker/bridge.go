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

// Package broker bridges the fanout exchange to the listener registry.
// The bridge owns the AMQP connection, channel and queue; the only side
// effect visible outside it is the fan-out send to subscriber sockets.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/apistream/streambridge/internal/registry"
	"github.com/apistream/streambridge/pkg/config"
	"github.com/apistream/streambridge/pkg/envelope"
)

var errStepTimeout = errors.New("protocol step timed out")

type Bridge struct {
	cfg      config.BrokerConfig
	verifier envelope.Verifier
	registry *registry.Registry
	logger   *slog.Logger

	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	consumerTag string
	connClose   chan *amqp.Error
	chClose     chan *amqp.Error

	state   atomic.Int32
	retries int
}

func New(cfg config.BrokerConfig, verifier envelope.Verifier, reg *registry.Registry, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:         cfg,
		verifier:    verifier,
		registry:    reg,
		logger:      logger,
		consumerTag: "streambridge-" + uuid.New().String(),
	}
}

// State reports the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Run drives the lifecycle state machine until ctx is cancelled. It
// returns only after the close sequence has finished; transport
// failures are absorbed by the reconnect path and never returned.
func (b *Bridge) Run(ctx context.Context) error {
	state := StateConnecting
	b.setState(state)

	for {
		if ctx.Err() != nil && state != StateClosing {
			state = StateClosing
			b.setState(state)
		}

		ev, err := b.step(ctx, state)
		if err != nil {
			b.logger.Warn("broker step failed", "state", state.String(), "error", err)
			b.teardown()
			ev = EventStepFailed
		}

		next := Next(state, ev)
		if next != state {
			b.logger.Debug("broker state transition", "from", state.String(), "to", next.String())
		}
		state = next
		b.setState(state)

		if state == StateDisconnected {
			return ctx.Err()
		}
	}
}

func (b *Bridge) step(ctx context.Context, s State) (Event, error) {
	switch s {
	case StateConnecting:
		return EventDialed, b.connect(ctx)
	case StateChannelOpening:
		return EventChannelOpened, b.openChannel()
	case StateExchangeDeclaring:
		return EventExchangeDeclared, b.declareExchange()
	case StateQueueDeclaring:
		return EventQueueDeclared, b.declareQueue()
	case StateBinding:
		return EventBound, b.bind()
	case StateConsuming:
		return b.consume(ctx)
	case StateReconnecting:
		return b.waitRetry(ctx)
	case StateClosing:
		b.shutdown()
		return EventClosed, nil
	default:
		return EventClosed, nil
	}
}

func (b *Bridge) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.ConnectionAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.DialConfig(b.cfg.URL, amqp.Config{
			Heartbeat: b.cfg.Heartbeat(),
			Dial:      amqp.DefaultDial(b.cfg.StepTimeout()),
		})
		if err == nil {
			b.conn = conn
			b.connClose = conn.NotifyClose(make(chan *amqp.Error, 1))
			b.logger.Info("connected to broker", "exchange", b.cfg.Exchange)
			return nil
		}
		lastErr = err
		b.logger.Warn("broker dial failed", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("dial broker: %w", lastErr)
}

func (b *Bridge) openChannel() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	b.ch = ch
	b.chClose = ch.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

func (b *Bridge) declareExchange() error {
	return b.withTimeout("declare exchange", func() error {
		return b.ch.ExchangeDeclare(b.cfg.Exchange, b.cfg.ExchangeType,
			false, false, false, false, nil)
	})
}

func (b *Bridge) declareQueue() error {
	return b.withTimeout("declare queue", func() error {
		// Exclusive auto-named queue; the broker deletes it with the
		// connection, so nothing is durable here.
		q, err := b.ch.QueueDeclare("", false, false, true, false, nil)
		if err != nil {
			return err
		}
		b.queue = q.Name
		return nil
	})
}

func (b *Bridge) bind() error {
	return b.withTimeout("bind queue", func() error {
		// Empty routing key: fanout ignores it.
		return b.ch.QueueBind(b.queue, "", b.cfg.Exchange, false, nil)
	})
}

func (b *Bridge) consume(ctx context.Context) (Event, error) {
	deliveries, err := b.ch.Consume(b.queue, b.consumerTag,
		false, false, false, false, nil)
	if err != nil {
		return EventStepFailed, fmt.Errorf("start consumer: %w", err)
	}

	b.retries = 0
	b.logger.Info("consuming from broker", "queue", b.queue, "exchange", b.cfg.Exchange)

	for {
		select {
		case <-ctx.Done():
			return EventStopRequested, nil
		case cerr := <-b.connClose:
			b.logger.Warn("broker connection closed", "error", cerr)
			b.teardown()
			return EventConnectionLost, nil
		case cerr := <-b.chClose:
			b.logger.Warn("broker channel closed", "error", cerr)
			b.teardown()
			return EventConnectionLost, nil
		case d, ok := <-deliveries:
			if !ok {
				b.teardown()
				return EventConnectionLost, nil
			}
			b.handleDelivery(d)
		}
	}
}

func (b *Bridge) waitRetry(ctx context.Context) (Event, error) {
	delay := b.nextBackoff()
	b.logger.Warn("broker connection lost, reconnecting", "delay", delay)
	select {
	case <-ctx.Done():
		return EventStopRequested, nil
	case <-time.After(delay):
		return EventRetryElapsed, nil
	}
}

// nextBackoff doubles the delay on every consecutive failure up to the
// configured cap. Setting base and cap equal restores a fixed delay.
func (b *Bridge) nextBackoff() time.Duration {
	delay := b.cfg.BackoffBase() << b.retries
	if limit := b.cfg.BackoffCap(); delay >= limit || delay <= 0 {
		return limit
	}
	b.retries++
	return delay
}

func (b *Bridge) handleDelivery(d amqp.Delivery) {
	// Ack before processing: a malformed message is dropped, never
	// requeued, so it cannot loop back as a poison message.
	if err := d.Ack(false); err != nil {
		b.logger.Warn("ack failed", "delivery_tag", d.DeliveryTag, "error", err)
	}

	env, err := b.verifier.Verify(d.Body)
	if err != nil {
		b.logger.Warn("dropping unverifiable broker message", "error", err)
		return
	}
	b.Inject(env, d.Body)
}

// Inject fans the raw message body out, unmodified, to every subscriber
// whose topic set intersects the envelope's keys. The session ping path
// re-enters locally constructed pongs through here, which is why it is
// exported; locally constructed messages carry no signature to verify.
func (b *Bridge) Inject(env *envelope.Envelope, raw []byte) {
	if env.Model == "" {
		b.logger.Debug("dropping message without model", "method", env.Method)
		return
	}
	topics := env.Topics()
	subs := b.registry.Matching(topics)
	for _, sub := range subs {
		if !sub.Send(raw) {
			b.logger.Warn("subscriber queue full, message dropped",
				"subscriber", sub.ID(), "model", env.Model)
		}
	}
	b.logger.Debug("dispatched broker message",
		"model", env.Model, "id", env.ID, "subscribers", len(subs))
}

// withTimeout bounds a synchronous protocol step. On timeout the step
// counts as failed and the reconnect path tears the connection down.
func (b *Bridge) withTimeout(op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-time.After(b.cfg.StepTimeout()):
		return fmt.Errorf("%s: %w", op, errStepTimeout)
	}
}

// shutdown runs the deliberate close sequence: cancel the consumer,
// close the channel, close the connection. Each step waits at most the
// step timeout and proceeds anyway on failure.
func (b *Bridge) shutdown() {
	if b.ch != nil {
		if err := b.withTimeout("cancel consumer", func() error {
			return b.ch.Cancel(b.consumerTag, false)
		}); err != nil {
			b.logger.Warn("consumer cancel failed", "error", err)
		}
		if err := b.withTimeout("close channel", func() error {
			return b.ch.Close()
		}); err != nil {
			b.logger.Warn("channel close failed", "error", err)
		}
		b.ch = nil
	}
	if b.conn != nil {
		if err := b.withTimeout("close connection", func() error {
			return b.conn.Close()
		}); err != nil {
			b.logger.Warn("connection close failed", "error", err)
		}
		b.conn = nil
	}
	b.logger.Info("broker bridge stopped")
}

// teardown discards a dead connection after a failure so the next
// connect starts clean.
func (b *Bridge) teardown() {
	if b.conn != nil && !b.conn.IsClosed() {
		_ = b.conn.Close()
	}
	b.conn = nil
	b.ch = nil
	b.queue = ""
}
