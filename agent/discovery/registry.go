package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
)

// Registry holds the set of known agents and their last recorded health.
type Registry struct {
	mu sync.RWMutex

	// agents stores registered agents by name.
	agents map[string]*agent.Agent

	// health is the side-table of last probe outcomes.
	health map[string]HealthRecord

	eventHandlers map[string]EventHandler
	handlerMu     sync.RWMutex
	subSeq        atomic.Uint64

	store    HealthStore
	observer Observer
	config   RegistryConfig
	logger   *zap.Logger

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHealthStore mirrors every health record into an external store.
func WithHealthStore(s HealthStore) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// WithObserver sets the probe observer.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig, logger *zap.Logger, opts ...RegistryOption) *Registry {
	defaults := DefaultRegistryConfig()
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if config.ProbeTask == "" {
		config.ProbeTask = defaults.ProbeTask
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		agents:        make(map[string]*agent.Agent),
		health:        make(map[string]HealthRecord),
		eventHandlers: make(map[string]EventHandler),
		config:        config,
		logger:        logger.With(zap.String("component", "agent_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent. Names are unique.
func (r *Registry) Register(a *agent.Agent) error {
	if a == nil {
		return ErrNilAgent
	}

	name := a.Name()
	r.mu.Lock()
	if _, exists := r.agents[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentExists, name)
	}
	r.agents[name] = a
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent", name),
		zap.Strings("capabilities", a.Identity().Capabilities),
	)
	r.emitEvent(&Event{Type: EventRegistered, Agent: name, Timestamp: time.Now()})
	return nil
}

// Unregister removes an agent and its health record. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, exists := r.agents[name]
	delete(r.agents, name)
	delete(r.health, name)
	r.mu.Unlock()

	if !exists {
		return
	}

	if r.store != nil {
		if err := r.store.DeleteHealth(context.Background(), name); err != nil {
			r.logger.Warn("failed to delete health record", zap.String("agent", name), zap.Error(err))
		}
	}

	r.logger.Info("agent unregistered", zap.String("agent", name))
	r.emitEvent(&Event{Type: EventUnregistered, Agent: name, Timestamp: time.Now()})
}

// Lookup returns the agent registered under name.
func (r *Registry) Lookup(name string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// ListAll returns every registered name, sorted.
func (r *Registry) ListAll() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListHealthy returns names whose last recorded probe succeeded, sorted.
// Agents that were never probed are not included.
func (r *Registry) ListHealthy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.health))
	for name, rec := range r.health {
		if _, ok := r.agents[name]; ok && rec.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Health returns the last recorded probe for name.
func (r *Registry) Health(name string) (HealthRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.health[name]
	return rec, ok
}

// IsHealthy reports whether the last recorded probe for name succeeded.
func (r *Registry) IsHealthy(name string) bool {
	rec, ok := r.Health(name)
	return ok && rec.Healthy
}

// Status returns the combined status of a single agent.
func (r *Registry) Status(name string) (AgentStatus, error) {
	r.mu.RLock()
	a, ok := r.agents[name]
	rec, hasRec := r.health[name]
	r.mu.RUnlock()

	if !ok {
		return AgentStatus{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	st := AgentStatus{Identity: a.Identity(), Runtime: a.HealthSnapshot()}
	if hasRec {
		st.Health = &rec
	}
	return st, nil
}

// Statuses returns the combined status of every registered agent, sorted by name.
func (r *Registry) Statuses() []AgentStatus {
	r.mu.RLock()
	agents := make([]*agent.Agent, 0, len(r.agents))
	records := make(map[string]HealthRecord, len(r.health))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	for name, rec := range r.health {
		records[name] = rec
	}
	r.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name() < agents[j].Name() })

	out := make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		st := AgentStatus{Identity: a.Identity(), Runtime: a.HealthSnapshot()}
		if rec, ok := records[a.Name()]; ok {
			st.Health = &rec
		}
		out = append(out, st)
	}
	return out
}

// Restore loads missing health records of registered agents from the store.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	var errs []error
	for _, name := range r.ListAll() {
		rec, err := r.store.LoadHealth(ctx, name)
		if errors.Is(err, ErrHealthNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("load health of %s: %w", name, err))
			continue
		}

		r.mu.Lock()
		if _, registered := r.agents[name]; registered {
			if _, known := r.health[name]; !known {
				r.health[name] = *rec
			}
		}
		r.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Subscribe registers an event handler and returns its subscription id.
func (r *Registry) Subscribe(handler EventHandler) string {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	id := fmt.Sprintf("sub-%d", r.subSeq.Add(1))
	r.eventHandlers[id] = handler
	return id
}

// Unsubscribe removes an event handler.
func (r *Registry) Unsubscribe(subscriptionID string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	delete(r.eventHandlers, subscriptionID)
}

// emitEvent delivers an event to all subscribers asynchronously.
func (r *Registry) emitEvent(event *Event) {
	r.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(r.eventHandlers))
	for _, h := range r.eventHandlers {
		handlers = append(handlers, h)
	}
	r.handlerMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}
