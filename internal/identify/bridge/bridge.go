// Package bridge consumes credential-detected events from the hardware
// bridge's Redis Stream. The connection is explicit state, not ambient:
// Disconnected -> Connecting -> Connected, reconnecting automatically with
// bounded backoff. Subscriptions registered by callers survive reconnects;
// an in-progress scan does not, it must abort when the connection drops.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"gemma/internal/identify/metrics"
	id "gemma/pkg/domain"
)

// ConnState is the hardware connection lifecycle state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// TapEvent is one credential detection emitted by a reader. The UID arrives
// raw; the resolver normalizes it.
type TapEvent struct {
	TerminalID id.TerminalID
	UID        string
}

// Handler consumes tap events. Handlers run on the listener goroutine and
// must not block.
type Handler func(ctx context.Context, event TapEvent)

const (
	fieldTerminal = "terminal_id"
	fieldUID      = "uid"

	readBlock = 5 * time.Second
	readCount = 64
	pingWait  = 2 * time.Second
)

// Listener is the stream consumer. Create with New, register handlers with
// Subscribe, then call Run on its own goroutine.
type Listener struct {
	client      *redis.Client
	stream      string
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// onDrop fires once per lost connection, before reconnecting.
	onDrop func(reason string)

	state atomic.Value // ConnState

	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int
}

type Option func(*Listener)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) {
		l.metrics = m
	}
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(l *Listener) {
		if base > 0 {
			l.baseBackoff = base
		}
		if max > 0 {
			l.maxBackoff = max
		}
	}
}

// WithDropHook registers a callback fired when an established connection is
// lost. The session manager hooks this to abort in-flight scans.
func WithDropHook(hook func(reason string)) Option {
	return func(l *Listener) {
		l.onDrop = hook
	}
}

func New(client *redis.Client, stream string, opts ...Option) *Listener {
	l := &Listener{
		client:      client,
		stream:      stream,
		baseBackoff: 500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
		logger:      slog.Default(),
		subs:        make(map[int]Handler),
	}
	l.state.Store(StateDisconnected)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State reports the current connection state.
func (l *Listener) State() ConnState {
	return l.state.Load().(ConnState)
}

// Subscribe registers a handler for tap events and returns its unsubscribe
// function. Subscriptions persist across reconnects; callers never need to
// re-subscribe.
func (l *Listener) Subscribe(handler Handler) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	subID := l.nextID
	l.nextID++
	l.subs[subID] = handler

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, subID)
	}
}

// Run consumes the stream until ctx is cancelled. It returns only the ctx
// error; connection failures are retried internally.
func (l *Listener) Run(ctx context.Context) error {
	// "$" skips events that predate this process; a reader emitting into
	// the void while nobody listened must not replay stale taps.
	lastID := "$"
	backoff := l.baseBackoff

	for {
		if err := ctx.Err(); err != nil {
			l.setState(StateDisconnected)
			return err
		}

		l.setState(StateConnecting)
		if err := l.ping(ctx); err != nil {
			l.logger.WarnContext(ctx, "hardware bridge unreachable",
				"error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				l.setState(StateDisconnected)
				return ctx.Err()
			}
			backoff = min(backoff*2, l.maxBackoff)
			continue
		}

		l.setState(StateConnected)
		l.logger.InfoContext(ctx, "hardware bridge connected", "stream", l.stream)
		backoff = l.baseBackoff

		lastID = l.consume(ctx, lastID)
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return ctx.Err()
		}

		// An established connection was lost. Abort in-flight scans;
		// they must not silently resume after the reconnect.
		l.setState(StateDisconnected)
		if l.metrics != nil {
			l.metrics.BridgeReconnects.Inc()
		}
		if l.onDrop != nil {
			l.onDrop("hardware connection lost")
		}
		l.logger.WarnContext(ctx, "hardware bridge connection lost", "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// consume reads the stream until an error or cancellation, returning the last
// seen message id so the reconnected consumer resumes where it left off.
func (l *Listener) consume(ctx context.Context, lastID string) string {
	for {
		res, err := l.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{l.stream, lastID},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return lastID
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				event, ok := parseTap(msg.Values)
				if !ok {
					l.logger.WarnContext(ctx, "malformed tap event", "message_id", msg.ID)
					continue
				}
				l.dispatch(ctx, event)
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, event TapEvent) {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.subs))
	for _, h := range l.subs {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
}

func (l *Listener) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingWait)
	defer cancel()
	return l.client.Ping(ctx).Err()
}

func (l *Listener) setState(state ConnState) {
	l.state.Store(state)
	if l.metrics != nil {
		if state == StateConnected {
			l.metrics.BridgeConnected.Set(1)
		} else {
			l.metrics.BridgeConnected.Set(0)
		}
	}
}

func parseTap(values map[string]any) (TapEvent, bool) {
	uid, _ := values[fieldUID].(string)
	if uid == "" {
		return TapEvent{}, false
	}
	terminal, _ := values[fieldTerminal].(string)
	return TapEvent{TerminalID: id.TerminalID(terminal), UID: uid}, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
