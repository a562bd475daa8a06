// Package license runs a complete license acquisition against a license
// server: open a session, POST its request with the caller's headers,
// feed the answer back and return the recovered keys.
//
// Individualization round trips are handled transparently. Non-2xx
// answers become a StatusError, or a playready.ServerError when a
// PlayReady server returned a SOAP fault.
package license
