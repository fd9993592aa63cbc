// Package discovery provides the health-aware agent registry.
//
// The Registry is the authoritative directory of known agents. It keeps the
// agent collection keyed by name and a health side-table fed by periodic
// probes. Probes go through each agent's normal Submit path, so an agent
// whose breaker is open is reported unhealthy without its logic being run.
//
// # Basic Usage
//
//	reg := discovery.NewRegistry(discovery.DefaultRegistryConfig(), logger)
//	if err := reg.Register(a); err != nil {
//	    return err
//	}
//	reg.Start(ctx)
//	defer reg.Close()
//
//	healthy := reg.ListHealthy()
//
// A probe failure never unregisters an agent. Callers decide whether to
// route around unhealthy agents or to treat them as fatal.
package discovery
