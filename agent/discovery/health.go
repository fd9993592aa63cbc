package discovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
)

// ProbeOne submits the probe task through the agent's Submit path and
// records the outcome. A failed probe never unregisters the agent.
func (r *Registry) ProbeOne(ctx context.Context, name string) (bool, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return false, err
	}

	if r.config.ResetOnRecovery && a.BreakerOpen() {
		r.tryReset(ctx, a)
	}

	start := time.Now()
	res := a.Submit(ctx, r.config.ProbeTask, map[string]any{"probe": true})
	rec := HealthRecord{
		Agent:     name,
		Healthy:   res.Success,
		CheckedAt: time.Now(),
		Latency:   time.Since(start),
		Error:     res.Error,
	}

	prev, hadPrev, recorded := r.recordHealth(a, rec)
	if !recorded {
		// unregistered while the probe was in flight
		return rec.Healthy, nil
	}

	if r.observer != nil {
		r.observer.ObserveProbe(name, rec.Healthy, rec.Latency)
	}
	if r.store != nil {
		if err := r.store.SaveHealth(ctx, rec); err != nil {
			r.logger.Warn("failed to save health record", zap.String("agent", name), zap.Error(err))
		}
	}

	switch {
	case rec.Healthy && hadPrev && !prev.Healthy:
		r.logger.Info("agent health recovered", zap.String("agent", name))
		r.emitEvent(&Event{Type: EventHealthRecovered, Agent: name, Record: &rec, Timestamp: rec.CheckedAt})
	case !rec.Healthy:
		r.logger.Warn("agent health check failed",
			zap.String("agent", name),
			zap.Bool("breaker_open", res.BreakerOpen()),
			zap.String("message", rec.Error),
		)
		if !hadPrev || prev.Healthy {
			r.emitEvent(&Event{Type: EventHealthFailed, Agent: name, Record: &rec, Timestamp: rec.CheckedAt})
		}
	}

	return rec.Healthy, nil
}

// recordHealth stores rec if a is still the agent registered under its name.
func (r *Registry) recordHealth(a *agent.Agent, rec HealthRecord) (prev HealthRecord, hadPrev, recorded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.agents[rec.Agent]; !ok || cur != a {
		return HealthRecord{}, false, false
	}
	prev, hadPrev = r.health[rec.Agent]
	r.health[rec.Agent] = rec
	return prev, hadPrev, true
}

// tryReset pings an agent with an open breaker and resets it on success.
func (r *Registry) tryReset(ctx context.Context, a *agent.Agent) {
	err := a.Ping(ctx)
	switch {
	case err == nil:
		a.ResetBreaker()
		r.logger.Info("breaker reset after successful ping", zap.String("agent", a.Name()))
		r.emitEvent(&Event{Type: EventBreakerReset, Agent: a.Name(), Timestamp: time.Now()})
	case errors.Is(err, agent.ErrPingUnsupported):
	default:
		r.logger.Debug("ping failed, breaker stays open", zap.String("agent", a.Name()), zap.Error(err))
	}
}

// ProbeAll probes every registered agent once.
func (r *Registry) ProbeAll(ctx context.Context) {
	for _, name := range r.ListAll() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.ProbeOne(ctx, name); err != nil && !errors.Is(err, ErrAgentNotFound) {
			r.logger.Error("probe failed", zap.String("agent", name), zap.Error(err))
		}
	}
}

// RunHealthLoop sweeps all agents, then waits interval after the sweep
// completes before the next one. It blocks until ctx is cancelled.
func (r *Registry) RunHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.config.HealthCheckInterval
	}

	for {
		r.ProbeAll(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Start runs the health loop in the background until Close.
func (r *Registry) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	if r.loopCancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.loopCancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.RunHealthLoop(loopCtx, r.config.HealthCheckInterval)
	}()

	r.logger.Info("health loop started", zap.Duration("interval", r.config.HealthCheckInterval))
}

// Close stops the background health loop and waits for it to exit.
func (r *Registry) Close() error {
	r.loopMu.Lock()
	cancel := r.loopCancel
	r.loopCancel = nil
	r.loopMu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()
		r.logger.Info("health loop stopped")
	}
	return nil
}
