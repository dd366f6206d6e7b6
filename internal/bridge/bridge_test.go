package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

type fakeConn struct {
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type mockConnector struct {
	mu    sync.Mutex
	calls int
	reqs  []Request
	err   error
	delay time.Duration
	// ignoreCtx keeps dialing after cancellation and still returns a conn.
	ignoreCtx bool
	conns     []*fakeConn
	// release, when set, blocks the dial until closed.
	release chan struct{}
}

func (m *mockConnector) Connect(ctx context.Context, req Request) (Connection, error) {
	m.mu.Lock()
	m.calls++
	m.reqs = append(m.reqs, req)
	delay, ignoreCtx, dialErr, release := m.delay, m.ignoreCtx, m.err, m.release
	m.mu.Unlock()

	if release != nil {
		<-release
	}
	if delay > 0 {
		if ignoreCtx {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}
	c := &fakeConn{}
	m.mu.Lock()
	m.conns = append(m.conns, c)
	m.mu.Unlock()
	return c, nil
}

func (m *mockConnector) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockConnector) lastConn() *fakeConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return nil
	}
	return m.conns[len(m.conns)-1]
}

func newTestBridge(t *testing.T, c Connector, timeout time.Duration, onStart SessionStartFunc) (*Bridge, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	b, err := New(Config{Connector: c, Logger: logger.Logger, Timeout: timeout, OnSessionStart: onStart})
	require.NoError(t, err)
	return b, logger
}

func TestNew_Validation(t *testing.T) {
	logger := logging.NewTestLogger()

	_, err := New(Config{Logger: logger.Logger})
	assert.Error(t, err)

	_, err = New(Config{Connector: &mockConnector{}})
	assert.Error(t, err)

	_, err = New(Config{Connector: &mockConnector{}, Logger: logger.Logger, Timeout: -time.Second})
	assert.Error(t, err)
}

func TestConnect_Success(t *testing.T) {
	var started atomic.Int32
	conn := &mockConnector{}
	b, _ := newTestBridge(t, conn, time.Second, func(context.Context, Connection) { started.Add(1) })

	got, err := b.Connect(context.Background(), Request{ConfigID: "cfg-1", AccessToken: "tok"})
	require.NoError(t, err)
	require.NotNil(t, got)

	st := b.Status()
	assert.Equal(t, Connected, st.State)
	assert.Equal(t, uint64(1), st.Attempt)
	assert.Equal(t, "cfg-1", st.ConfigID)
	assert.Empty(t, st.Reason)
	assert.Equal(t, int32(1), started.Load())
	assert.Same(t, got, b.Connection())
	assert.Equal(t, "tok", conn.reqs[0].AccessToken)
}

func TestConnect_MissingConfigID(t *testing.T) {
	conn := &mockConnector{}
	b, logger := newTestBridge(t, conn, time.Second, nil)

	_, err := b.Connect(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMissingConfigID)
	assert.Equal(t, 0, conn.callCount())
	assert.Equal(t, Idle, b.Status().State)
	assert.Equal(t, uint64(0), b.Status().Attempt)
	logger.AssertLogged(t, zapcore.ErrorLevel, "connect aborted: no voice configuration selected")
}

func TestConnect_InFlightGuard(t *testing.T) {
	conn := &mockConnector{release: make(chan struct{})}
	b, _ := newTestBridge(t, conn, time.Second, nil)

	first := make(chan error, 1)
	go func() {
		_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
		first <- err
	}()

	require.Eventually(t, func() bool { return b.Status().State == Connecting }, time.Second, time.Millisecond)

	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	assert.ErrorIs(t, err, ErrInFlight)

	close(conn.release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, Connected, b.Status().State)
}

func TestConnect_AlreadyConnected(t *testing.T) {
	conn := &mockConnector{}
	b, _ := newTestBridge(t, conn, time.Second, nil)

	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.NoError(t, err)

	_, err = b.Connect(context.Background(), Request{ConfigID: "cfg"})
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, 1, conn.callCount())
}

func TestConnect_Failure(t *testing.T) {
	var started atomic.Int32
	conn := &mockConnector{err: errors.New("handshake rejected")}
	b, logger := newTestBridge(t, conn, time.Second, func(context.Context, Connection) { started.Add(1) })

	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.Error(t, err)

	st := b.Status()
	assert.Equal(t, Failed, st.State)
	assert.Contains(t, st.Reason, "handshake rejected")
	assert.Equal(t, int32(0), started.Load())
	logger.AssertLogged(t, zapcore.ErrorLevel, "voice connection failed")

	// no automatic retry
	assert.Equal(t, 1, conn.callCount())
}

// partialConnector fails but still hands back a connection.
type partialConnector struct {
	conn *fakeConn
}

func (p *partialConnector) Connect(context.Context, Request) (Connection, error) {
	return p.conn, errors.New("handshake rejected after upgrade")
}

func TestConnect_FailureClosesReturnedConnection(t *testing.T) {
	conn := &partialConnector{conn: &fakeConn{}}
	b, _ := newTestBridge(t, conn, time.Second, nil)

	got, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, conn.conn.closed.Load())
	assert.Equal(t, Failed, b.Status().State)
}

func TestConnect_RetryAfterFailure(t *testing.T) {
	conn := &mockConnector{err: errors.New("boom")}
	b, _ := newTestBridge(t, conn, time.Second, nil)

	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.Error(t, err)

	conn.mu.Lock()
	conn.err = nil
	conn.mu.Unlock()

	_, err = b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.NoError(t, err)
	assert.Equal(t, Connected, b.Status().State)
	assert.Equal(t, uint64(2), b.Status().Attempt)
}

func TestConnect_TimeoutAborts(t *testing.T) {
	conn := &mockConnector{delay: time.Second}
	b, logger := newTestBridge(t, conn, 30*time.Millisecond, nil)
	before := testutil.ToFloat64(b.metrics.TimeoutsTotal)

	start := time.Now()
	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, Failed, b.Status().State)
	assert.Equal(t, before+1, testutil.ToFloat64(b.metrics.TimeoutsTotal))
	logger.AssertLogged(t, zapcore.WarnLevel, "voice connection timed out")
	assert.Nil(t, b.Connection())
}

func TestConnect_LateSuccessDiscarded(t *testing.T) {
	var started atomic.Int32
	conn := &mockConnector{delay: 100 * time.Millisecond, ignoreCtx: true}
	b, _ := newTestBridge(t, conn, 20*time.Millisecond, func(context.Context, Connection) { started.Add(1) })
	before := testutil.ToFloat64(b.metrics.LateDiscardsTotal)

	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.ErrorIs(t, err, ErrTimeout)

	require.Eventually(t, func() bool {
		c := conn.lastConn()
		return c != nil && c.closed.Load()
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, Failed, b.Status().State)
	assert.Nil(t, b.Connection())
	assert.Equal(t, int32(0), started.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(b.metrics.LateDiscardsTotal))
}

func TestConnect_LateSuccessDoesNotOverrideNewAttempt(t *testing.T) {
	conn := &mockConnector{delay: 150 * time.Millisecond, ignoreCtx: true}
	b, _ := newTestBridge(t, conn, 20*time.Millisecond, nil)

	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.ErrorIs(t, err, ErrTimeout)

	conn.mu.Lock()
	conn.delay = 0
	conn.mu.Unlock()

	second, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.NoError(t, err)

	// let the first dial land
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, Connected, b.Status().State)
	assert.Equal(t, uint64(2), b.Status().Attempt)
	assert.Same(t, second, b.Connection())
	assert.False(t, second.(*fakeConn).closed.Load())
}

func TestConnect_NoTimeoutForTrial(t *testing.T) {
	conn := &mockConnector{delay: 80 * time.Millisecond}
	b, _ := newTestBridge(t, conn, 0, nil)

	_, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.NoError(t, err)
	assert.Equal(t, Connected, b.Status().State)
}

func TestConnect_CallerCancel(t *testing.T) {
	conn := &mockConnector{delay: time.Second}
	b, _ := newTestBridge(t, conn, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Connect(ctx, Request{ConfigID: "cfg"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, Failed, b.Status().State)
}

func TestClose(t *testing.T) {
	conn := &mockConnector{}
	b, _ := newTestBridge(t, conn, time.Second, nil)

	got, err := b.Connect(context.Background(), Request{ConfigID: "cfg"})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.True(t, got.(*fakeConn).closed.Load())
	assert.Equal(t, Idle, b.Status().State)
	assert.Nil(t, b.Connection())

	// closing twice is harmless
	require.NoError(t, b.Close())
}

func TestViewFor(t *testing.T) {
	tests := []struct {
		state State
		want  View
	}{
		{Idle, View{ShowWizard: true, CanConnect: true}},
		{Connecting, View{ShowWizard: true, ShowSpinner: true}},
		{Connected, View{ShowLiveSession: true}},
		{Failed, View{ShowWizard: true, ShowError: true, CanConnect: true}},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ViewFor(tt.state))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "state(9)", State(9).String())

	text, err := Failed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "failed", string(text))
}
