// Package playreadytest provides a throwaway device hierarchy, XMR license
// builders and an in-process license server for PlayReady tests.
package playreadytest

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/pkg/errors"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/playready"
)

// WRMHeader is a v4.3 header naming KeyID.
const WRMHeader = `<WRMHEADER xmlns="http://schemas.microsoft.com/DRM/2007/03/PlayReadyHeader" version="4.3.0.0">` +
	`<DATA><PROTECTINFO><KIDS><KID ALGID="AESCTR" VALUE="4Rplb+TbNES8tGkNFWTEHA=="></KID></KIDS></PROTECTINFO></DATA></WRMHEADER>`

// KeyID is the key id in WRMHeader, in the byte order used on the wire.
var KeyID = []byte{
	0xe1, 0x1a, 0x65, 0x6f, 0xe4, 0xdb, 0x34, 0x44,
	0xbc, 0xb4, 0x69, 0x0d, 0x15, 0x64, 0xc4, 0x1c,
}

// Hierarchy is a private root, a group certificate under it and a device
// provisioned from the group.
type Hierarchy struct {
	Root   *crypto.EccKey
	Group  *crypto.EccKey
	Device *playready.Device
}

// NewHierarchy builds a fresh Hierarchy.
func NewHierarchy() (*Hierarchy, error) {
	root, err := crypto.GenerateEccKey()
	if err != nil {
		return nil, err
	}
	group, err := crypto.GenerateEccKey()
	if err != nil {
		return nil, err
	}
	issuer, err := playready.NewIssuerCertificate(root, group, 2000)
	if err != nil {
		return nil, err
	}
	chain := playready.NewCertificateChain(playready.WithRootKey(root.PublicBytes()))
	if err := chain.Append(issuer); err != nil {
		return nil, err
	}
	device, err := playready.ProvisionChain(group, chain)
	if err != nil {
		return nil, err
	}
	return &Hierarchy{Root: root, Group: group, Device: device}, nil
}

// InitData returns WRMHeader wrapped in a PSSH box.
func InitData() []byte {
	b, err := playready.EncodeWRMHeader(WRMHeader)
	if err != nil {
		panic(err)
	}
	return b
}

// Object is one XMR object.
type Object struct {
	Flags uint16
	Type  uint16
	Data  []byte
}

// Bytes serialises the object with its 8-byte header.
func (o Object) Bytes() []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, o.Flags)
	_ = binary.Write(&b, binary.BigEndian, o.Type)
	_ = binary.Write(&b, binary.BigEndian, uint32(len(o.Data)+8))
	b.Write(o.Data)
	return b.Bytes()
}

// ContentKeyObject carries an AES-128-CTR key wrapped with cipherType.
func ContentKeyObject(keyID []byte, cipherType uint16, encrypted []byte) Object {
	var b bytes.Buffer
	b.Write(keyID)
	_ = binary.Write(&b, binary.BigEndian, playready.KeyTypeAES128CTR)
	_ = binary.Write(&b, binary.BigEndian, cipherType)
	_ = binary.Write(&b, binary.BigEndian, uint16(len(encrypted)))
	b.Write(encrypted)
	return Object{Flags: 1, Type: playready.XmrContentKey, Data: b.Bytes()}
}

// AuxKeysObject carries a single aux key at location 0.
func AuxKeysObject(key []byte) Object {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, uint16(1))
	_ = binary.Write(&b, binary.BigEndian, uint32(0))
	b.Write(key)
	return Object{Flags: 1, Type: playready.XmrAuxKeys, Data: b.Bytes()}
}

// BuildLicense assembles a v3 XMR license with an outer container holding
// objects, followed by a CMAC signature keyed with ci.
func BuildLicense(ci []byte, objects ...Object) ([]byte, error) {
	var inner bytes.Buffer
	for _, o := range objects {
		inner.Write(o.Bytes())
	}
	// signature object: type, length, 16-byte CMAC
	sig := Object{Flags: 1, Type: playready.XmrSignature, Data: make([]byte, 2+2+16)}
	binary.BigEndian.PutUint16(sig.Data[0:2], 1)
	binary.BigEndian.PutUint16(sig.Data[2:4], 16)
	inner.Write(sig.Bytes())

	var lic bytes.Buffer
	lic.WriteString("XMR\x00")
	_ = binary.Write(&lic, binary.BigEndian, uint32(3))
	lic.Write(bytes.Repeat([]byte{0xaa}, 16))
	lic.Write(Object{Flags: 2, Type: playready.XmrOuterContainer, Data: inner.Bytes()}.Bytes())

	raw := lic.Bytes()
	mac, err := crypto.CMAC(ci, raw[:len(raw)-28])
	if err != nil {
		return nil, err
	}
	copy(raw[len(raw)-16:], mac)
	return raw, nil
}

// LicenseResponse wraps licenses in an AcquireLicense SOAP response.
func LicenseResponse(licenses ...[]byte) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`)
	b.WriteString(`<AcquireLicenseResponse xmlns="http://schemas.microsoft.com/DRM/2007/03/protocols">`)
	b.WriteString(`<AcquireLicenseResult><Response><LicenseResponse><Licenses>`)
	for _, l := range licenses {
		b.WriteString(`<License>` + base64.StdEncoding.EncodeToString(l) + `</License>`)
	}
	b.WriteString(`</Licenses></LicenseResponse></Response></AcquireLicenseResult>`)
	b.WriteString(`</AcquireLicenseResponse></soap:Body></soap:Envelope>`)
	return b.String()
}

// Fault renders a SOAP fault with a PlayReady status code.
func Fault(statusCode, message string) string {
	return `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		`<soap:Fault><faultcode>soap:Server</faultcode><faultstring>System.Web.Services.Protocols.SoapException: ` + message + `</faultstring>` +
		`<detail><Exception><StatusCode>` + statusCode + `</StatusCode></Exception></detail></soap:Fault></soap:Body></soap:Envelope>`
}

// WrapKey encrypts a fresh random point to pub and returns the ciphertext
// and the x coordinate the recipient will recover.
func WrapKey(pub crypto.Point) ([]byte, []byte, error) {
	msg, err := crypto.GenerateEccKey()
	if err != nil {
		return nil, nil, err
	}
	ct, err := crypto.EncryptECC256(msg.Point(), pub)
	if err != nil {
		return nil, nil, err
	}
	return ct, msg.PublicBytes()[:32], nil
}

// Server opens challenges addressed to Key and licenses KeyID to the
// device whose chain the challenge carries. Cdms talking to it must be
// built with playready.WithServerKey(Key.Point()).
type Server struct {
	Key *crypto.EccKey
	// FaultStatus, when set, makes every answer a SOAP fault.
	FaultStatus string

	mu     sync.Mutex
	issued []domain.Key
}

// NewServer returns a Server with a fresh key.
func NewServer() (*Server, error) {
	key, err := crypto.GenerateEccKey()
	if err != nil {
		return nil, err
	}
	return &Server{Key: key}, nil
}

// Issued lists the keys licensed so far, ids in display order.
func (s *Server) Issued() []domain.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Key(nil), s.issued...)
}

// Respond answers a challenge with a single-license response.
func (s *Server) Respond(challenge []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(challenge); err != nil {
		return nil, err
	}
	values := doc.FindElements("//CipherValue")
	if len(values) != 2 {
		return nil, errors.Errorf("challenge has %d cipher values", len(values))
	}
	keyCipher, err := base64.StdEncoding.DecodeString(values[0].Text())
	if err != nil {
		return nil, err
	}
	x, err := crypto.DecryptECC256(s.Key, keyCipher)
	if err != nil {
		return nil, err
	}
	dataCipher, err := base64.StdEncoding.DecodeString(values[1].Text())
	if err != nil {
		return nil, err
	}
	if len(dataCipher) < 16 {
		return nil, errors.New("data cipher too short")
	}
	plain, err := crypto.DecryptCBC(x[16:], x[:16], dataCipher[16:])
	if err != nil {
		return nil, err
	}
	pub, err := encryptionKey(string(plain))
	if err != nil {
		return nil, err
	}

	ct, k, err := WrapKey(pub)
	if err != nil {
		return nil, err
	}
	lic, err := BuildLicense(k[:16], ContentKeyObject(KeyID, playready.CipherECC256, ct))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.issued = append(s.issued, domain.Key{ID: playready.SwapGUID(KeyID), Value: k[16:]})
	s.mu.Unlock()
	return []byte(LicenseResponse(lic)), nil
}

// encryptionKey pulls the leaf's content encryption key out of the
// decrypted challenge data.
func encryptionKey(data string) (crypto.Point, error) {
	const open, end = "<CertificateChain>", "</CertificateChain>"
	i := strings.Index(data, open)
	j := strings.Index(data, end)
	if i < 0 || j < i {
		return crypto.Point{}, errors.New("challenge data carries no certificate chain")
	}
	raw, err := base64.StdEncoding.DecodeString(data[i+len(open) : j])
	if err != nil {
		return crypto.Point{}, err
	}
	chain, err := playready.ParseCertificateChain(raw)
	if err != nil {
		return crypto.Point{}, err
	}
	leaf, err := chain.Get(0)
	if err != nil {
		return crypto.Point{}, err
	}
	return crypto.ParsePoint(leaf.KeyWithUsage(playready.KeyUsageEncryptKey))
}

// ServeHTTP answers a POSTed challenge. Failures are SOAP faults with
// status 500.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if s.FaultStatus != "" {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, Fault(s.FaultStatus, "License denied"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err == nil {
		var resp []byte
		if resp, err = s.Respond(body); err == nil {
			_, _ = w.Write(resp)
			return
		}
	}
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, Fault("0x8004c600", "Invalid challenge"))
}
