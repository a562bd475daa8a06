package interfaces

import (
	"context"

	domaintypes "cdmkit/internal/domain/types"
)

// Cdm is a loaded client identity able to open license sessions. There are
// exactly two local implementations, one per scheme, plus the remote client.
type Cdm interface {
	KeySystem() domaintypes.KeySystem
	CreateSession(ctx context.Context, sessionType domaintypes.SessionType) (EngineSession, error)
	// ResumeSession restores a session from a blob produced by
	// EngineSession.Pause. Missing fields are an error.
	ResumeSession(ctx context.Context, state []byte) (EngineSession, error)
}

// EngineSession is one scheme-specific license exchange. It is driven by a
// single caller and is not safe for concurrent use.
type EngineSession interface {
	ID() string
	Type() domaintypes.SessionType
	GenerateRequest(
		ctx context.Context,
		initDataType string,
		initData []byte,
	) (domaintypes.Message, error)
	Update(ctx context.Context, response []byte) (domaintypes.UpdateResult, error)
	Keys() []domaintypes.Key
	// Close and Remove are idempotent.
	Close(ctx context.Context) error
	Remove(ctx context.Context) error
	Pause(ctx context.Context) ([]byte, error)
}
