package types

// KeySystem names a DRM scheme the way EME does.
type KeySystem string

const (
	KeySystemWidevine  KeySystem = "com.widevine.alpha"
	KeySystemPlayReady KeySystem = "com.microsoft.playready.recommendation"
)

// String returns the string form of the key system.
func (k KeySystem) String() string { return string(k) }

// SessionType controls whether a license may be persisted by the server.
type SessionType string

const (
	SessionTemporary  SessionType = "temporary"
	SessionPersistent SessionType = "persistent-license"
)

// String returns the string form of the session type.
func (t SessionType) String() string { return string(t) }

// Valid reports whether t is one of the known session types.
func (t SessionType) Valid() bool {
	return t == SessionTemporary || t == SessionPersistent
}

// ParseSessionType maps "" to SessionTemporary.
func ParseSessionType(s string) (SessionType, bool) {
	if s == "" {
		return SessionTemporary, true
	}
	t := SessionType(s)
	return t, t.Valid()
}
