// Package server provides the HTTP servers of the generation gateway and the
// session engine.
//
// Both servers share one chi middleware stack: request ids, real client IPs,
// a zerolog access log, panic recovery and Prometheus request metrics. Errors
// are written as a uniform envelope:
//
//	{"error": {"code": "NOT_FOUND", "message": "...", "details": {...}}, "timestamp": "..."}
//
// # Gateway
//
//	POST /gen/encounter      generate an encounter (HMAC signed)
//	POST /gen/reward         generate rewards (HMAC signed)
//	POST /gen/estimate       estimate generation cost (HMAC signed)
//	GET  /health             liveness
//	GET  /health/providers   per-provider health and breaker state (HMAC signed)
//	GET  /metrics            Prometheus exposition
//
// The /gen routes and /health/providers are rate limited per caller before the
// signature check. Provider health checks never feed the circuit breakers.
//
// # Engine
//
//	POST  /session/start
//	GET   /session?playerId=
//	GET   /session/events            SSE stream of lifecycle events
//	GET   /session/{id}
//	PATCH /session/{id}/objective/{objectiveId}
//	POST  /session/{id}/npc/{npcId}/interact
//	POST  /session/{id}/complete
//	GET   /health, /metrics
package server
