// Package remote is the client side of the remote CDM protocol.
//
// A Cdm dialled with Dial implements domain.Cdm, so the session service
// and the license fetcher drive a server-side device exactly like a local
// one. Requests are JSON over HTTP, authenticated with the x-secret-key
// header. Error bodies carry a kind, and Error unwraps to the matching
// domain sentinel.
package remote
