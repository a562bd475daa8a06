package types

// MessageType tags what a session wants sent to the license server.
type MessageType string

const (
	MessageLicenseRequest           MessageType = "license-request"
	MessageIndividualizationRequest MessageType = "individualization-request"
)

// Message is an outbound request produced by a session.
type Message struct {
	Type MessageType `json:"type"`
	Data []byte      `json:"data"`
}

// UpdateResult is what a session returns after consuming a server response.
// Message is set when the response triggered a follow-up request, for
// example a license request deferred behind a service certificate.
type UpdateResult struct {
	Message *Message `json:"message,omitempty"`
	Keys    []Key    `json:"keys,omitempty"`
}
