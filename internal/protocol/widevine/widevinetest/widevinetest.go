// Package widevinetest provides a self-signed test device and an in-process
// license server speaking the Widevine license protocol.
package widevinetest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"cdmkit/internal/crypto"
	"cdmkit/internal/protocol/widevine"
)

// SystemID is the system id of test device certificates.
const SystemID = 4464

// Key is a content key the Server hands out.
type Key struct {
	ID    []byte
	Value []byte
}

// DefaultKeys are served when a Server has no Keys configured.
var DefaultKeys = []Key{
	{ID: mustHex("0123456789abcdef0123456789abcdef"), Value: mustHex("00112233445566778899aabbccddeeff")},
	{ID: mustHex("fedcba9876543210fedcba9876543210"), Value: mustHex("ffeeddccbbaa99887766554433221100")},
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

var rsaKeys = sync.OnceValue(func() [3]*rsa.PrivateKey {
	var out [3]*rsa.PrivateKey
	for i := range out {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		out[i] = k
	}
	return out
})

// DeviceKey, RootKey and ServiceKey are generated once per process.
func DeviceKey() *rsa.PrivateKey  { return rsaKeys()[0] }
func RootKey() *rsa.PrivateKey    { return rsaKeys()[1] }
func ServiceKey() *rsa.PrivateKey { return rsaKeys()[2] }

// SignedCertificate builds a SignedDrmCertificate for pub signed by the
// root key.
func SignedCertificate(t widevine.CertificateType, pub *rsa.PublicKey, providerID string) ([]byte, error) {
	cert := &widevine.DrmCertificate{
		Type:         t,
		SerialNumber: mustHex("5e71a1a0b2c3d4e5f60718293a4b5c6d"),
		CreationTime: 1700000000,
		PublicKey:    x509.MarshalPKCS1PublicKey(pub),
		SystemID:     SystemID,
		ProviderID:   providerID,
	}
	body := cert.Marshal()
	sig, err := crypto.SignPSS(RootKey(), body)
	if err != nil {
		return nil, err
	}
	return (&widevine.SignedDrmCertificate{DrmCertificate: body, Signature: sig}).Marshal(), nil
}

// NewDevice returns a device whose client certificate is signed by RootKey.
func NewDevice(t widevine.DeviceType) (*widevine.Device, error) {
	token, err := SignedCertificate(widevine.CertificateDevice, &DeviceKey().PublicKey, "")
	if err != nil {
		return nil, err
	}
	clientID := widevine.MarshalClientIdentification(widevine.TokenDrmDeviceCertificate, token, []widevine.NameValue{
		{Name: "company_name", Value: "cdmkit"},
		{Name: "model_name", Value: "testdevice"},
		{Name: "architecture_name", Value: "x86-64"},
	})
	return widevine.NewDevice(t, 3, clientID, DeviceKey())
}

// ServiceCertificate is the SERVICE_CERTIFICATE message a Server returns.
func ServiceCertificate() ([]byte, error) {
	signed, err := SignedCertificate(widevine.CertificateService, &ServiceKey().PublicKey, "license.cdmkit.test")
	if err != nil {
		return nil, err
	}
	return (&widevine.SignedMessage{Type: widevine.MessageServiceCertificate, Msg: signed}).Marshal(), nil
}

// Server answers license and service certificate requests.
type Server struct {
	Keys []Key
	// Tamper, when set, flips one byte of the last wrapped key after the
	// license is signed.
	Tamper bool

	mu       sync.Mutex
	requests []*widevine.LicenseRequest
}

// Requests returns the license requests seen so far.
func (s *Server) Requests() []*widevine.LicenseRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*widevine.LicenseRequest(nil), s.requests...)
}

// Respond builds the server's answer to a signed request.
func (s *Server) Respond(request []byte) ([]byte, error) {
	signed, err := widevine.UnmarshalSignedMessage(request)
	if err != nil {
		return nil, err
	}
	if signed.Type == widevine.MessageServiceCertificateRequest {
		return ServiceCertificate()
	}
	if signed.Type != widevine.MessageLicenseRequest {
		return nil, errors.Errorf("unexpected message type %v", signed.Type)
	}
	req, err := widevine.UnmarshalLicenseRequest(signed.Msg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	clientID := req.ClientID
	if enc := req.EncryptedClientID; enc != nil {
		privacyKey, err := crypto.DecryptOAEP(ServiceKey(), enc.EncryptedPrivacyKey)
		if err != nil {
			return nil, err
		}
		if clientID, err = crypto.DecryptCBC(privacyKey, enc.EncryptedClientIDIV, enc.EncryptedClientID); err != nil {
			return nil, err
		}
	}
	pub, err := clientKey(clientID)
	if err != nil {
		return nil, err
	}
	if err := crypto.VerifyPSS(pub, signed.Msg, signed.Signature); err != nil {
		return nil, errors.Wrap(err, "request signature")
	}

	sessionKey := make([]byte, 16)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, err
	}
	enc, auth := widevine.DeriveContext(signed.Msg)
	derived, err := widevine.DeriveKeys(enc, auth, sessionKey)
	if err != nil {
		return nil, err
	}

	keys := s.Keys
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	signing, err := container(derived.Enc, nil, make([]byte, 64), widevine.KeySigning)
	if err != nil {
		return nil, err
	}
	license := &widevine.License{
		ID: widevine.LicenseIdentification{
			RequestID: req.ContentID.RequestID,
			SessionID: mustHex("c0ffee"),
			Type:      req.ContentID.LicenseType,
		},
		Keys:      []widevine.KeyContainer{signing},
		StartTime: req.RequestTime,
	}
	for _, k := range keys {
		kc, err := container(derived.Enc, k.ID, k.Value, widevine.KeyContent)
		if err != nil {
			return nil, err
		}
		license.Keys = append(license.Keys, kc)
	}

	body := license.Marshal()
	mac := crypto.HMACSHA256(derived.MacServer, body)
	if s.Tamper {
		last := &license.Keys[len(license.Keys)-1]
		last.Key[0] ^= 0xff
		body = license.Marshal()
	}
	wrapped, err := crypto.EncryptOAEP(pub, sessionKey)
	if err != nil {
		return nil, err
	}
	return (&widevine.SignedMessage{
		Type:       widevine.MessageLicense,
		Msg:        body,
		Signature:  mac,
		SessionKey: wrapped,
	}).Marshal(), nil
}

func container(encKey, id, value []byte, t widevine.KeyType) (widevine.KeyContainer, error) {
	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return widevine.KeyContainer{}, err
	}
	ct, err := crypto.EncryptCBC(encKey, iv, value)
	if err != nil {
		return widevine.KeyContainer{}, err
	}
	return widevine.KeyContainer{ID: id, IV: iv, Key: ct, Type: t, Level: 1}, nil
}

func clientKey(clientID []byte) (*rsa.PublicKey, error) {
	id, err := widevine.UnmarshalClientIdentification(clientID)
	if err != nil {
		return nil, err
	}
	signed, err := widevine.UnmarshalSignedDrmCertificate(id.Token)
	if err != nil {
		return nil, err
	}
	cert, err := widevine.UnmarshalDrmCertificate(signed.DrmCertificate)
	if err != nil {
		return nil, err
	}
	return crypto.ParseRSAPublicKey(cert.PublicKey)
}

// ServeHTTP answers a POSTed request body. Failures are 400s.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.Respond(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(resp)
}

// InitData returns a Widevine PSSH box listing the ids of keys, or of
// DefaultKeys when keys is empty.
func InitData(keys ...Key) []byte {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	data := &widevine.PsshData{Provider: "cdmkit"}
	for _, k := range keys {
		data.KeyIDs = append(data.KeyIDs, k.ID)
	}
	box, err := widevine.NewBox(data.Marshal())
	if err != nil {
		panic(err)
	}
	return box
}
