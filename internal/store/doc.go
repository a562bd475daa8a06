// Package store persists paused license sessions and exported keys.
//
// StateFileStore and RedisStateStore implement domain.StateStore; the file
// store can seal blobs with a passphrase (scrypt + ChaCha20-Poly1305).
// KeyFileStore implements domain.KeyStore and always seals. File writes go
// through a temp file and rename, and every store is safe for concurrent
// use.
package store
