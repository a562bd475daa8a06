package widevine

import (
	"crypto/rand"
	"crypto/rsa"

	"github.com/pkg/errors"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// ServiceCertificateRequest is the message asking a license server for its
// service certificate.
var ServiceCertificateRequest = (&SignedMessage{Type: MessageServiceCertificateRequest}).Marshal()

// ServiceCertificate is a license server's privacy certificate.
type ServiceCertificate struct {
	Signed      *SignedDrmCertificate
	Certificate *DrmCertificate
	PublicKey   *rsa.PublicKey
}

// ParseServiceCertificate accepts a SERVICE_CERTIFICATE SignedMessage or a
// bare SignedDrmCertificate.
func ParseServiceCertificate(data []byte) (*ServiceCertificate, error) {
	payload := data
	if msg, err := UnmarshalSignedMessage(data); err == nil {
		if msg.Type != MessageServiceCertificate {
			return nil, errors.Wrapf(domain.ErrUnsupported, "expected service certificate, got %v", msg.Type)
		}
		payload = msg.Msg
	}
	signed, err := UnmarshalSignedDrmCertificate(payload)
	if err != nil {
		return nil, err
	}
	cert, err := UnmarshalDrmCertificate(signed.DrmCertificate)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.ParseRSAPublicKey(cert.PublicKey)
	if err != nil {
		return nil, errors.WithMessage(err, "service certificate")
	}
	return &ServiceCertificate{Signed: signed, Certificate: cert, PublicKey: pub}, nil
}

// Verify checks the certificate signature against a root key.
func (c *ServiceCertificate) Verify(root *rsa.PublicKey) error {
	if err := crypto.VerifyPSS(root, c.Signed.DrmCertificate, c.Signed.Signature); err != nil {
		return errors.Wrap(domain.ErrInvalidSignature, "service certificate signature mismatch")
	}
	return nil
}

// EncryptClientID encrypts a client id to the service certificate: the
// blob under a fresh AES key, the AES key under the certificate's RSA key.
func (c *ServiceCertificate) EncryptClientID(clientID []byte) (*EncryptedClientIdentification, error) {
	privacyKey := make([]byte, 16)
	iv := make([]byte, 16)
	if _, err := rand.Read(privacyKey); err != nil {
		return nil, err
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	encrypted, err := crypto.EncryptCBC(privacyKey, iv, clientID)
	if err != nil {
		return nil, err
	}
	wrapped, err := crypto.EncryptOAEP(c.PublicKey, privacyKey)
	if err != nil {
		return nil, err
	}
	return &EncryptedClientIdentification{
		ProviderID:                     c.Certificate.ProviderID,
		ServiceCertificateSerialNumber: c.Certificate.SerialNumber,
		EncryptedClientID:              encrypted,
		EncryptedClientIDIV:            iv,
		EncryptedPrivacyKey:            wrapped,
	}, nil
}
