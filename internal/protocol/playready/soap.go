package playready

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// ServerError is a SOAP fault returned by a license server.
type ServerError struct {
	Code       string
	Message    string
	StatusCode string
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.StatusCode != "" {
		return fmt.Sprintf("license server error: %s (status %s)", msg, e.StatusCode)
	}
	return "license server error: " + msg
}

// ParseFault extracts a SOAP fault from a response body.
func ParseFault(body []byte) (*ServerError, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, false
	}
	return faultFromDocument(doc)
}

func faultFromDocument(doc *etree.Document) (*ServerError, bool) {
	fault := findFirst(doc.Root(), "Fault")
	if fault == nil {
		return nil, false
	}
	text := func(tag string) string {
		if el := findFirst(fault, tag); el != nil {
			return strings.TrimSpace(el.Text())
		}
		return ""
	}
	return &ServerError{
		Code:       text("faultcode"),
		Message:    text("faultstring"),
		StatusCode: text("StatusCode"),
	}, true
}
