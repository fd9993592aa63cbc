package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/types"
)

type countingLogic struct {
	calls atomic.Int32
	fn    func(task string) (any, error)
}

func (l *countingLogic) Execute(_ context.Context, task string, _ map[string]any) (any, error) {
	l.calls.Add(1)
	return l.fn(task)
}

type pingLogic struct {
	LogicFunc
	err error
}

func (p pingLogic) Ping(context.Context) error { return p.err }

type recordingObserver struct {
	mu       sync.Mutex
	submits  []TaskResult
	states   []State
	breakers []bool
}

func (o *recordingObserver) ObserveSubmit(_ string, r TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submits = append(o.submits, r)
}

func (o *recordingObserver) ObserveStateChange(_ string, _, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *recordingObserver) ObserveBreaker(_ string, open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.breakers = append(o.breakers, open)
}

func alwaysFail(string) (any, error) { return nil, errors.New("boom") }

func newTestAgent(t *testing.T, id Identity, logic Logic, opts ...Option) *Agent {
	t.Helper()
	a, err := New(id, logic, zap.NewNop(), opts...)
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Identity{}, LogicFunc(nil), nil)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = New(Identity{Name: "x"}, nil, nil)
	assert.ErrorIs(t, err, ErrNilLogic)

	_, err = New(Identity{Name: "x", MaxRetries: -1}, LogicFunc(nil), nil)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	a, err := New(Identity{Name: "x"}, LogicFunc(nil), nil)
	require.NoError(t, err)
	id := a.Identity()
	assert.Equal(t, DefaultTimeout, id.Timeout)
	assert.Equal(t, DefaultFailureThreshold, id.FailureThreshold)
	assert.Equal(t, DefaultRetryBackoff, id.RetryBackoff)
	assert.Equal(t, StateIdle, a.HealthSnapshot().State)
}

func TestSubmit_Success(t *testing.T) {
	obs := &recordingObserver{}
	a := newTestAgent(t, Identity{Name: "echo"}, LogicFunc(func(_ context.Context, task string, _ map[string]any) (any, error) {
		return task, nil
	}), WithObserver(obs))

	res := a.Submit(context.Background(), "hi", nil)
	require.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, res.Metadata["attempts"])
	assert.False(t, res.CompletedAt.IsZero())

	snap := a.HealthSnapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, []State{StateProcessing, StateCompleted}, obs.states)

	// 第二次调用先回到 Idle
	a.Submit(context.Background(), "again", nil)
	assert.Equal(t, []State{StateProcessing, StateCompleted, StateIdle, StateProcessing, StateCompleted}, obs.states)
}

func TestSubmit_BreakerOpensAtThreshold(t *testing.T) {
	logic := &countingLogic{fn: alwaysFail}
	obs := &recordingObserver{}
	a := newTestAgent(t, Identity{Name: "flaky", FailureThreshold: 3}, logic, WithObserver(obs))

	for i := 0; i < 3; i++ {
		res := a.Submit(context.Background(), "work", nil)
		require.False(t, res.Success)
		assert.False(t, res.BreakerOpen(), "call %d should be a domain failure", i+1)
	}
	assert.True(t, a.BreakerOpen())
	assert.Equal(t, int32(3), logic.calls.Load())

	res := a.Submit(context.Background(), "work", nil)
	assert.False(t, res.Success)
	assert.True(t, res.BreakerOpen())
	assert.ErrorIs(t, res.Err, ErrBreakerOpen)
	assert.Equal(t, types.ErrBreakerOpen, CodeOf(res.Err))
	assert.Equal(t, int32(3), logic.calls.Load(), "logic must not run while breaker is open")
	assert.Equal(t, []bool{true}, obs.breakers)

	snap := a.HealthSnapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, 3, snap.FailureCount)
	assert.False(t, snap.LastFailureTime.IsZero())
}

func TestSubmit_SuccessDoesNotCloseBreaker(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	a := newTestAgent(t, Identity{Name: "a", FailureThreshold: 1}, LogicFunc(func(context.Context, string, map[string]any) (any, error) {
		if fail.Load() {
			return nil, errors.New("down")
		}
		return "ok", nil
	}))

	a.Submit(context.Background(), "x", nil)
	require.True(t, a.BreakerOpen())

	fail.Store(false)
	res := a.Submit(context.Background(), "x", nil)
	assert.True(t, res.BreakerOpen())
	assert.True(t, a.BreakerOpen())

	a.ResetBreaker()
	assert.False(t, a.BreakerOpen())
	assert.Equal(t, 0, a.HealthSnapshot().FailureCount)

	res = a.Submit(context.Background(), "x", nil)
	assert.True(t, res.Success)
}

func TestSubmit_PanicIsRecovered(t *testing.T) {
	a := newTestAgent(t, Identity{Name: "p"}, LogicFunc(func(context.Context, string, map[string]any) (any, error) {
		panic("kaboom")
	}))

	res := a.Submit(context.Background(), "x", nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrLogicPanic)
	assert.Contains(t, res.Error, "kaboom")
	assert.Equal(t, 1, a.HealthSnapshot().FailureCount)
	assert.Equal(t, types.ErrAgentFailed, CodeOf(res.Err))
}

func TestSubmit_Timeout(t *testing.T) {
	a := newTestAgent(t, Identity{Name: "slow", Timeout: 20 * time.Millisecond}, LogicFunc(func(ctx context.Context, _ string, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	res := a.Submit(context.Background(), "x", nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, types.ErrTimeout, CodeOf(res.Err))
	assert.Equal(t, 1, a.HealthSnapshot().FailureCount)
	assert.Equal(t, StateFailed, a.HealthSnapshot().State)
}

func TestSubmit_CancelledContextStillBooksFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newTestAgent(t, Identity{Name: "c"}, LogicFunc(func(ctx context.Context, _ string, _ map[string]any) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	res := a.Submit(ctx, "x", nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NotErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, 1, a.HealthSnapshot().FailureCount)
	assert.Equal(t, StateFailed, a.HealthSnapshot().State)
}

func TestSubmit_Retries(t *testing.T) {
	var calls atomic.Int32
	a := newTestAgent(t, Identity{Name: "r", MaxRetries: 2, RetryBackoff: time.Millisecond}, LogicFunc(func(context.Context, string, map[string]any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}))

	res := a.Submit(context.Background(), "x", nil)
	require.True(t, res.Success)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, 3, res.Metadata["attempts"])
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, a.HealthSnapshot().FailureCount)
}

func TestSubmit_RetriesExhaustedCountOnce(t *testing.T) {
	logic := &countingLogic{fn: alwaysFail}
	a := newTestAgent(t, Identity{Name: "r", MaxRetries: 1, RetryBackoff: time.Millisecond}, logic)

	res := a.Submit(context.Background(), "x", nil)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Metadata["attempts"])
	assert.Equal(t, int32(2), logic.calls.Load())
	assert.Equal(t, 1, a.HealthSnapshot().FailureCount)
}

func TestPing(t *testing.T) {
	noop := LogicFunc(func(context.Context, string, map[string]any) (any, error) { return nil, nil })

	a := newTestAgent(t, Identity{Name: "plain"}, noop)
	assert.ErrorIs(t, a.Ping(context.Background()), ErrPingUnsupported)

	b := newTestAgent(t, Identity{Name: "pinger"}, pingLogic{LogicFunc: noop})
	assert.NoError(t, b.Ping(context.Background()))

	c := newTestAgent(t, Identity{Name: "down"}, pingLogic{LogicFunc: noop, err: errors.New("unreachable")})
	assert.Error(t, c.Ping(context.Background()))
	assert.Equal(t, 0, c.HealthSnapshot().FailureCount)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateProcessing, true},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateFailed, true},
		{StateCompleted, StateIdle, true},
		{StateFailed, StateIdle, true},
		{StateIdle, StateCompleted, false},
		{StateCompleted, StateProcessing, false},
		{State("unknown"), StateIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIdentity_HasCapability(t *testing.T) {
	caps := []string{"text", "quiz"}
	a := newTestAgent(t, Identity{Name: "cap", Capabilities: caps}, LogicFunc(nil))
	caps[0] = "mutated"

	id := a.Identity()
	assert.True(t, id.HasCapability("text"))
	assert.False(t, id.HasCapability("video"))
}

func TestSubmit_ConcurrentCallsKeepCountsConsistent(t *testing.T) {
	logic := &countingLogic{fn: alwaysFail}
	a := newTestAgent(t, Identity{Name: "conc", FailureThreshold: 1000}, logic)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Submit(context.Background(), "x", nil)
		}()
	}
	wg.Wait()

	snap := a.HealthSnapshot()
	assert.Equal(t, 50, snap.FailureCount)
	assert.Equal(t, StateFailed, snap.State)
}
