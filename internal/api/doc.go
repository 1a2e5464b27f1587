// Package api implements the HTTP surface of the librarian service.
//
// Endpoints:
//   - POST   /api/v1/sessions              - create a session
//   - GET    /api/v1/sessions              - list session summaries
//   - GET    /api/v1/sessions/{id}/history - completed and failed turns
//   - GET    /api/v1/sessions/{id}/stats   - aggregated cost statistics
//   - GET    /api/v1/sessions/{id}/export  - transcript (json or markdown)
//   - DELETE /api/v1/sessions/{id}         - delete a session
//   - POST   /api/v1/chat/stream           - run a turn, streamed as SSE
//   - GET    /health, GET /ready           - probes
//
// Session-level failures (unknown session, concurrent turn, empty
// message) are reported as plain JSON error responses before any SSE
// bytes are written. Once streaming has begun, failures travel inside
// the stream as error events.
package api
