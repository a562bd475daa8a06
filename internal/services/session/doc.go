// Package session is the key-system independent session layer.
//
// It drives a domain.EngineSession through idle, awaiting-response, keyed
// and closed, publishes the license request and the key set as
// single-assignment futures, and parks paused sessions in a StateStore.
package session
