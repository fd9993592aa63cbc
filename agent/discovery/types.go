package discovery

import (
	"errors"
	"time"

	"github.com/BaSui01/orchestra/agent"
)

var (
	// ErrAgentNotFound is returned when a name is not registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists is returned when registering a duplicate name.
	ErrAgentExists = errors.New("agent already registered")

	// ErrNilAgent is returned when registering a nil agent.
	ErrNilAgent = errors.New("agent is nil")

	// ErrHealthNotFound is returned by a HealthStore without a record.
	ErrHealthNotFound = errors.New("health record not found")
)

// HealthRecord is the outcome of the most recent probe of one agent.
type HealthRecord struct {
	Agent     string        `json:"agent"`
	Healthy   bool          `json:"healthy"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// AgentStatus combines an agent's identity, runtime snapshot and last probe.
type AgentStatus struct {
	Identity agent.Identity       `json:"identity"`
	Runtime  agent.HealthSnapshot `json:"runtime"`
	Health   *HealthRecord        `json:"health,omitempty"`
}

// EventType identifies a registry event.
type EventType string

const (
	EventRegistered      EventType = "registered"
	EventUnregistered    EventType = "unregistered"
	EventHealthFailed    EventType = "health_failed"
	EventHealthRecovered EventType = "health_recovered"
	EventBreakerReset    EventType = "breaker_reset"
)

// Event is delivered to subscribers when the registry changes.
type Event struct {
	Type      EventType     `json:"type"`
	Agent     string        `json:"agent"`
	Record    *HealthRecord `json:"record,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventHandler handles registry events.
type EventHandler func(event *Event)

// Observer receives probe outcomes, typically for metrics.
type Observer interface {
	ObserveProbe(agent string, healthy bool, latency time.Duration)
}

// RegistryConfig holds configuration for the registry.
type RegistryConfig struct {
	// HealthCheckInterval is the wait between the end of one sweep and the start of the next.
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`

	// ProbeTask is the task string submitted to each agent as a probe.
	ProbeTask string `json:"probe_task" yaml:"probe_task"`

	// ResetOnRecovery resets an open breaker when an out-of-band ping succeeds.
	ResetOnRecovery bool `json:"reset_on_recovery" yaml:"reset_on_recovery"`
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HealthCheckInterval: 30 * time.Second,
		ProbeTask:           "ping",
	}
}
