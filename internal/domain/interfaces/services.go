package interfaces

import (
	"context"
	"net/http"

	domaintypes "cdmkit/internal/domain/types"
)

// FetchParams describes one license acquisition.
type FetchParams struct {
	InitData     []byte
	InitDataType string
	SessionType  domaintypes.SessionType
	URL          string
	Headers      http.Header
}

// LicenseService runs a full request/response exchange against a license
// server and returns the recovered keys.
type LicenseService interface {
	Fetch(ctx context.Context, cdm Cdm, params FetchParams) ([]domaintypes.Key, error)
}
