// Package server is the remote CDM HTTP server.
//
// Routes (all but /healthz and /metrics need an x-secret-key header):
//
//	GET    /devices
//	POST   /sessions                       {sessionType?, client?} -> {id}
//	POST   /sessions/resume                {state | id, client}    -> {id}
//	POST   /sessions/:id/generate-request  {initDataType?, initData}
//	POST   /sessions/:id/update            {response}
//	GET    /sessions/:id/keys
//	POST   /sessions/:id/close
//	POST   /sessions/:id/pause             -> {state}
//	DELETE /sessions/:id
//
// Byte fields are base64 in JSON. Failures answer {error, kind}, where kind
// is the domain error kind. Sessions live in a registry keyed by the
// caller's secret and the session id; sessions idle past Deps.IdleTimeout
// are closed and dropped.
package server
