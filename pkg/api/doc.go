// Package api exposes the agent over HTTP.
//
// Endpoints:
//
//	GET  /             liveness banner
//	GET  /health       status, uptime and database reachability
//	GET  /models       OpenAI models plus free OpenRouter models
//	POST /chat         {"query","model"} -> {"response","metadata"}
//	GET  /chat/stream  websocket; streams tool steps then the answer
//	GET  /metrics      prometheus
//
// Every response carries permissive CORS headers, an X-Request-ID and an
// X-Trace-ID. Agent endpoints are rate limited per client address, and the
// number of agent runs in flight is capped process wide.
package api
