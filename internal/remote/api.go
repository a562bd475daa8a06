package remote

import "cdmkit/internal/domain"

// SecretHeader carries the caller's API secret.
const SecretHeader = "x-secret-key"

// Device describes one device a user may open sessions on.
type Device struct {
	Name          string           `json:"name"`
	KeySystem     domain.KeySystem `json:"keySystem"`
	SecurityLevel uint32           `json:"securityLevel,omitempty"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	SessionType domain.SessionType `json:"sessionType,omitempty"`
	Client      string             `json:"client,omitempty"`
}

// SessionResponse names a session.
type SessionResponse struct {
	ID        string             `json:"id"`
	Type      domain.SessionType `json:"sessionType,omitempty"`
	KeySystem domain.KeySystem   `json:"keySystem,omitempty"`
}

// GenerateRequestRequest is the body of POST /sessions/:id/generate-request.
type GenerateRequestRequest struct {
	InitDataType string `json:"initDataType,omitempty"`
	InitData     []byte `json:"initData"`
}

// MessageResponse carries a message the session wants sent.
type MessageResponse struct {
	LicenseRequest []byte             `json:"licenseRequest"`
	Type           domain.MessageType `json:"type,omitempty"`
}

// UpdateRequest is the body of POST /sessions/:id/update.
type UpdateRequest struct {
	Response []byte `json:"response"`
}

// UpdateResponse reports the keys held after an update and any follow-up
// request.
type UpdateResponse struct {
	Keys    []domain.Key     `json:"keys"`
	Message *MessageResponse `json:"message,omitempty"`
}

// PauseResponse carries an opaque session state.
type PauseResponse struct {
	State string `json:"state"`
}

// ResumeRequest is the body of POST /sessions/resume. With an empty State
// the server loads the state saved under ID.
type ResumeRequest struct {
	State  string `json:"state,omitempty"`
	ID     string `json:"id,omitempty"`
	Client string `json:"client"`
}

// ErrorResponse is every non-2xx body. Kind is a domain error kind when
// the failure had one.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
