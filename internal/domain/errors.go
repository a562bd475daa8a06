package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every failure surfaced by the engines matches exactly one of
// these with errors.Is, so callers can tell trust failures from format or
// state failures.
var (
	ErrMalformedInput          = errors.New("malformed input")
	ErrInvalidCertificate      = errors.New("invalid certificate")
	ErrInvalidCertificateChain = errors.New("invalid certificate chain")
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrInvalidLicense          = errors.New("invalid license")
	ErrInvalidSession          = errors.New("invalid session")
	ErrUnsupported             = errors.New("unsupported")
)

// CertificateError reports which certificate of a chain failed.
type CertificateError struct {
	Index  int
	Reason string
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("invalid certificate %d: %s", e.Index, e.Reason)
}

// Unwrap makes CertificateError match ErrInvalidCertificate.
func (e *CertificateError) Unwrap() error { return ErrInvalidCertificate }

// kindError reports cause as kind. Both match with errors.Is and As.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.msg == "" {
		return e.kind.Error() + ": " + e.cause.Error()
	}
	return e.kind.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

// Tag reports err as the given kind while keeping err matchable.
func Tag(kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: err})
}

// Malformed tags err as ErrMalformedInput.
func Malformed(err error, format string, args ...any) error {
	return Tag(ErrMalformedInput, err, format, args...)
}

var kinds = []struct {
	name string
	err  error
}{
	// chain before certificate: a chain failure may wrap a CertificateError
	{"invalid-certificate-chain", ErrInvalidCertificateChain},
	{"invalid-certificate", ErrInvalidCertificate},
	{"invalid-signature", ErrInvalidSignature},
	{"invalid-license", ErrInvalidLicense},
	{"invalid-session", ErrInvalidSession},
	{"malformed-input", ErrMalformedInput},
	{"unsupported", ErrUnsupported},
}

// Kind names the error kind err matches, or "" for unclassified errors.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// KindError returns the sentinel named by Kind, or nil.
func KindError(name string) error {
	for _, k := range kinds {
		if k.name == name {
			return k.err
		}
	}
	return nil
}
