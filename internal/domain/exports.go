package domain

import (
	interfaces "cdmkit/internal/domain/interfaces"
	types "cdmkit/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	KeySystem    = types.KeySystem
	SessionType  = types.SessionType
	MessageType  = types.MessageType
	Message      = types.Message
	UpdateResult = types.UpdateResult
	Key          = types.Key
	User         = types.User
	SavedKeys    = types.SavedKeys
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Cdm            = interfaces.Cdm
	EngineSession  = interfaces.EngineSession
	StateStore     = interfaces.StateStore
	KeyStore       = interfaces.KeyStore
	LicenseService = interfaces.LicenseService
	FetchParams    = interfaces.FetchParams
)

const (
	KeySystemWidevine  = types.KeySystemWidevine
	KeySystemPlayReady = types.KeySystemPlayReady

	SessionTemporary  = types.SessionTemporary
	SessionPersistent = types.SessionPersistent

	MessageLicenseRequest           = types.MessageLicenseRequest
	MessageIndividualizationRequest = types.MessageIndividualizationRequest
)

// ParseSessionType maps "" to SessionTemporary.
func ParseSessionType(s string) (SessionType, bool) { return types.ParseSessionType(s) }
