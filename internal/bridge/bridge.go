// Package bridge wraps a real-time voice connector with an in-flight guard,
// an authoritative timeout and an explicit connection-state enum.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

const instrumentationName = "github.com/J3rah/talkai-monorepo-sub002/internal/bridge"

// DefaultTimeout is the interactive connect deadline.
const DefaultTimeout = 10 * time.Second

var (
	// ErrMissingConfigID is returned when no voice configuration was chosen.
	ErrMissingConfigID = errors.New("bridge: voice configuration id is required")
	// ErrInFlight is returned when a connect attempt is already running.
	ErrInFlight = errors.New("bridge: connection attempt already in progress")
	// ErrAlreadyConnected is returned when the bridge holds a live connection.
	ErrAlreadyConnected = errors.New("bridge: already connected")
	// ErrTimeout is returned when the connector did not answer in time.
	ErrTimeout = errors.New("bridge: connection timed out")
)

// Request identifies what to connect to.
type Request struct {
	ConfigID    string
	AccessToken string
}

// Connection is a live voice session.
type Connection interface {
	Close() error
}

// Connector dials the voice provider. It must honor ctx cancellation.
type Connector interface {
	Connect(ctx context.Context, req Request) (Connection, error)
}

// SessionStartFunc runs once per successful connection.
type SessionStartFunc func(ctx context.Context, conn Connection)

// Config configures a Bridge.
type Config struct {
	Connector Connector
	Logger    *logging.Logger
	// Timeout of zero means no client deadline.
	Timeout        time.Duration
	OnSessionStart SessionStartFunc
}

// Bridge drives one connection at a time. Safe for concurrent use.
type Bridge struct {
	connector Connector
	logger    *logging.Logger
	timeout   time.Duration
	onStart   SessionStartFunc
	tracer    trace.Tracer
	metrics   *Metrics

	mu      sync.Mutex
	status  Status
	conn    Connection
	attempt uint64
}

// New validates cfg.
func New(cfg Config) (*Bridge, error) {
	if cfg.Connector == nil {
		return nil, errors.New("connector is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative: %s", cfg.Timeout)
	}
	return &Bridge{
		connector: cfg.Connector,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
		onStart:   cfg.OnSessionStart,
		tracer:    otel.Tracer(instrumentationName),
		metrics:   NewMetrics(),
		status:    Status{State: Idle},
	}, nil
}

// Status returns the current status.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Connection returns the live connection, if any.
func (b *Bridge) Connection() Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

type dialResult struct {
	conn Connection
	err  error
}

// Connect performs one attempt and blocks until it resolves. There is no
// automatic retry; call Connect again after a failure.
//
// A missing config id is rejected before any state change. When the
// timeout or ctx ends the attempt first, the dial is cancelled and a
// connection that still arrives is closed and discarded.
func (b *Bridge) Connect(ctx context.Context, req Request) (Connection, error) {
	if req.ConfigID == "" {
		b.logger.Error(ctx, "connect aborted: no voice configuration selected")
		return nil, ErrMissingConfigID
	}

	b.mu.Lock()
	switch b.status.State {
	case Connecting:
		b.mu.Unlock()
		return nil, ErrInFlight
	case Connected:
		b.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	b.attempt++
	attempt := b.attempt
	b.status = Status{State: Connecting, Attempt: attempt, ConfigID: req.ConfigID}
	b.mu.Unlock()

	b.metrics.AttemptsTotal.Inc()
	ctx, span := b.tracer.Start(ctx, "bridge.Connect", trace.WithAttributes(
		attribute.Int64("attempt", int64(attempt)),
		attribute.String("config_id", req.ConfigID),
	))
	defer span.End()

	dialCtx, cancel := b.dialContext(ctx)
	defer cancel()

	done := make(chan dialResult, 1)
	go func() {
		conn, err := b.connector.Connect(dialCtx, req)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.conn != nil {
			if dialCtx.Err() == nil {
				return b.succeed(ctx, attempt, res.conn)
			}
			// answered, but only after the deadline
			b.discard(ctx, attempt, res.conn)
		} else if res.conn != nil {
			b.closeRejected(ctx, attempt, res.conn)
		}
		err := res.err
		if err == nil {
			err = errors.New("connector returned no connection")
		}
		if dialCtx.Err() != nil {
			err = b.abandonReason(ctx, dialCtx)
		}
		b.fail(ctx, attempt, err, span)
		return nil, err

	case <-dialCtx.Done():
		err := b.abandonReason(ctx, dialCtx)
		b.fail(ctx, attempt, err, span)
		go b.discardLate(ctx, attempt, done)
		return nil, err
	}
}

// Close drops the live connection and returns the bridge to Idle.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	if b.status.State != Connecting {
		b.status = Status{State: Idle, Attempt: b.status.Attempt}
	}
	b.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (b *Bridge) dialContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return context.WithCancel(ctx)
}

// abandonReason distinguishes our deadline from the caller giving up.
func (b *Bridge) abandonReason(parent, dialCtx context.Context) error {
	if parent.Err() != nil {
		return fmt.Errorf("bridge: connection abandoned: %w", parent.Err())
	}
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		b.metrics.TimeoutsTotal.Inc()
		return fmt.Errorf("%w after %s", ErrTimeout, b.timeout)
	}
	return fmt.Errorf("bridge: connection abandoned: %w", dialCtx.Err())
}

func (b *Bridge) succeed(ctx context.Context, attempt uint64, conn Connection) (Connection, error) {
	b.mu.Lock()
	if b.attempt != attempt || b.status.State != Connecting {
		b.mu.Unlock()
		b.discard(ctx, attempt, conn)
		return nil, ErrTimeout
	}
	b.conn = conn
	b.status = Status{State: Connected, Attempt: attempt, ConfigID: b.status.ConfigID, Since: time.Now()}
	b.mu.Unlock()

	b.logger.Info(ctx, "voice connection established", zap.Uint64("attempt", attempt))
	if b.onStart != nil {
		b.onStart(ctx, conn)
	}
	return conn, nil
}

func (b *Bridge) fail(ctx context.Context, attempt uint64, err error, span trace.Span) {
	b.mu.Lock()
	if b.attempt == attempt && b.status.State == Connecting {
		b.status = Status{State: Failed, Attempt: attempt, ConfigID: b.status.ConfigID, Reason: err.Error(), Since: time.Now()}
	}
	b.mu.Unlock()

	b.metrics.FailuresTotal.Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, ErrTimeout) {
		b.logger.Warn(ctx, "voice connection timed out", zap.Uint64("attempt", attempt), zap.Duration("timeout", b.timeout))
		return
	}
	b.logger.Error(ctx, "voice connection failed", zap.Uint64("attempt", attempt), zap.Error(err))
}

// discardLate waits for an abandoned dial and closes whatever it produced.
func (b *Bridge) discardLate(ctx context.Context, attempt uint64, done <-chan dialResult) {
	res := <-done
	if res.conn != nil {
		b.discard(context.WithoutCancel(ctx), attempt, res.conn)
	}
}

// closeRejected closes a connection handed back alongside an error.
func (b *Bridge) closeRejected(ctx context.Context, attempt uint64, conn Connection) {
	if err := conn.Close(); err != nil {
		b.logger.Warn(ctx, "closing rejected connection failed", zap.Uint64("attempt", attempt), zap.Error(err))
	}
}

func (b *Bridge) discard(ctx context.Context, attempt uint64, conn Connection) {
	b.metrics.LateDiscardsTotal.Inc()
	if err := conn.Close(); err != nil {
		b.logger.Warn(ctx, "closing discarded connection failed", zap.Uint64("attempt", attempt), zap.Error(err))
	}
	b.logger.Info(ctx, "discarded connection from abandoned attempt", zap.Uint64("attempt", attempt))
}
