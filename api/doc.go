// Package api defines the request and response bodies of the Orchestra HTTP API.
//
// # API Overview
//
// The HTTP API exposes the orchestration runtime:
//   - Agent listing, inspection, direct task submission, breaker reset and probing
//   - Workflow submission from YAML/JSON DSL, execution lookup, progress and cancellation
//   - Publishing messages onto the communication bus
//   - A WebSocket stream of bus messages for a recipient key (workflow progress)
//   - Health, readiness and version endpoints
//
// # Authentication
//
// When JWT is configured, requests carry a bearer token:
//
//	Authorization: Bearer <token>
//
// Otherwise, when API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Health, readiness and version endpoints never require authentication.
//
// # Responses
//
// Every JSON endpoint wraps its payload in handlers.Response:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "AGENT_NOT_FOUND", "message": "..."}, "timestamp": "..."}
package api
