package interfaces

import (
	"context"

	domaintypes "cdmkit/internal/domain/types"
)

// StateStore persists paused session blobs by id.
type StateStore interface {
	SaveState(ctx context.Context, id string, state []byte) error
	LoadState(ctx context.Context, id string) ([]byte, bool, error)
	DeleteState(ctx context.Context, id string) error
}

// KeyStore keeps recovered keys encrypted at rest.
type KeyStore interface {
	SaveKeys(passphrase string, batch domaintypes.SavedKeys) error
	LoadKeys(passphrase string) ([]domaintypes.SavedKeys, error)
}
