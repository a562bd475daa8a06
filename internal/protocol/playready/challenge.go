package playready

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/pkg/errors"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// DefaultClientVersion is reported in CLIENTINFO unless overridden.
const DefaultClientVersion = "10.0.16384.10011"

// WMRMServerKey is the license server's fixed ElGamal public key.
var WMRMServerKey = crypto.Point{
	X: bigFromDecimal("90785344306297710604867503975059265028223978614363440949957868233137570135451"),
	Y: bigFromDecimal("68827801477692731286297993103001909218341737652466656881935707825713852622178"),
}

func bigFromDecimal(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid decimal constant " + s)
	}
	return n
}

// xmlKey is the one-time key of a challenge. The AES key and IV are the two
// halves of its public x coordinate.
type xmlKey struct {
	key   *crypto.EccKey
	aesIV []byte
	aes   []byte
}

func newXMLKey() (*xmlKey, error) {
	k, err := crypto.GenerateEccKey()
	if err != nil {
		return nil, err
	}
	x := k.PublicBytes()[:crypto.EccScalarSize]
	return &xmlKey{key: k, aesIV: x[:16], aes: x[16:32]}, nil
}

// ProtocolVersion maps a WRM header schema version to the challenge
// protocol version.
func ProtocolVersion(wrmHeader string) int {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(wrmHeader); err != nil || doc.Root() == nil {
		return 1
	}
	switch doc.Root().SelectAttrValue("version", "") {
	case "4.3.0.0":
		return 5
	case "4.2.0.0":
		return 4
	default:
		return 1
	}
}

// ChallengeParams are the inputs to BuildChallenge.
type ChallengeParams struct {
	WRMHeader     string
	RevLists      string
	ClientVersion string
	Chain         []byte
	SigningKey    *crypto.EccKey
	ServerKey     crypto.Point
}

// BuildChallenge assembles the signed AcquireLicense SOAP envelope.
func BuildChallenge(p ChallengeParams) (string, error) {
	if p.SigningKey == nil {
		return "", errors.Wrap(domain.ErrInvalidSession, "challenge: no signing key")
	}
	if p.ClientVersion == "" {
		p.ClientVersion = DefaultClientVersion
	}
	xk, err := newXMLKey()
	if err != nil {
		return "", err
	}

	keyCipher, err := crypto.EncryptECC256(xk.key.Point(), p.ServerKey)
	if err != nil {
		return "", err
	}
	dataCipher, err := dataCipher(xk, p.Chain)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	la := digestContent(laParams{
		header:        p.WRMHeader,
		nonce:         crypto.B64(nonce),
		keyCipher:     crypto.B64(keyCipher),
		dataCipher:    crypto.B64(dataCipher),
		version:       ProtocolVersion(p.WRMHeader),
		revLists:      p.RevLists,
		clientVersion: p.ClientVersion,
		clientTime:    time.Now().Unix(),
	})
	signedInfo := digestInfo(crypto.B64(crypto.SHA256([]byte(la))))
	signature, err := p.SigningKey.Sign([]byte(signedInfo))
	if err != nil {
		return "", err
	}
	return mainBody(la, signedInfo, crypto.B64(signature), crypto.B64(p.SigningKey.PublicBytes())), nil
}

func dataCipher(xk *xmlKey, chain []byte) ([]byte, error) {
	body := `<Data><CertificateChains><CertificateChain>` + crypto.B64(chain) +
		`</CertificateChain></CertificateChains><Features><Feature Name="AESCBC">""</Feature>` +
		`<REE><AESCBCS></AESCBCS></REE></Features></Data>`
	ct, err := crypto.EncryptCBC(xk.aes, xk.aesIV, []byte(body))
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), xk.aesIV...), ct...), nil
}

type laParams struct {
	header        string
	nonce         string
	keyCipher     string
	dataCipher    string
	version       int
	revLists      string
	clientVersion string
	clientTime    int64
}

// digestContent renders the signed LA element. The server hashes these exact
// bytes, so the markup is written out rather than serialised.
func digestContent(p laParams) string {
	var b strings.Builder
	b.WriteString(`<LA xmlns="http://schemas.microsoft.com/DRM/2007/03/protocols" Id="SignedData" xml:space="preserve">`)
	b.WriteString(`<Version>` + strconv.Itoa(p.version) + `</Version>`)
	b.WriteString(`<ContentHeader>` + p.header + `</ContentHeader>`)
	b.WriteString(`<CLIENTINFO>`)
	b.WriteString(`<CLIENTVERSION>` + p.clientVersion + `</CLIENTVERSION>`)
	b.WriteString(`</CLIENTINFO>`)
	b.WriteString(p.revLists)
	b.WriteString(`<LicenseNonce>` + p.nonce + `</LicenseNonce>`)
	b.WriteString(`<ClientTime>` + strconv.FormatInt(p.clientTime, 10) + `</ClientTime>`)
	b.WriteString(`<EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#" Type="http://www.w3.org/2001/04/xmlenc#Element">`)
	b.WriteString(`<EncryptionMethod Algorithm="http://www.w3.org/2001/04/xmlenc#aes128-cbc"></EncryptionMethod>`)
	b.WriteString(`<KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#">`)
	b.WriteString(`<EncryptedKey xmlns="http://www.w3.org/2001/04/xmlenc#">`)
	b.WriteString(`<EncryptionMethod Algorithm="http://schemas.microsoft.com/DRM/2007/03/protocols#ecc256"></EncryptionMethod>`)
	b.WriteString(`<KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#">`)
	b.WriteString(`<KeyName>WMRMServer</KeyName>`)
	b.WriteString(`</KeyInfo>`)
	b.WriteString(`<CipherData>`)
	b.WriteString(`<CipherValue>` + p.keyCipher + `</CipherValue>`)
	b.WriteString(`</CipherData>`)
	b.WriteString(`</EncryptedKey>`)
	b.WriteString(`</KeyInfo>`)
	b.WriteString(`<CipherData>`)
	b.WriteString(`<CipherValue>` + p.dataCipher + `</CipherValue>`)
	b.WriteString(`</CipherData>`)
	b.WriteString(`</EncryptedData>`)
	b.WriteString(`</LA>`)
	return b.String()
}

func digestInfo(digest string) string {
	return `<SignedInfo xmlns="http://www.w3.org/2000/09/xmldsig#">` +
		`<CanonicalizationMethod Algorithm="http://www.w3.org/TR/2001/REC-xml-c14n-20010315"></CanonicalizationMethod>` +
		`<SignatureMethod Algorithm="http://schemas.microsoft.com/DRM/2007/03/protocols#ecdsa-sha256"></SignatureMethod>` +
		`<Reference URI="#SignedData">` +
		`<DigestMethod Algorithm="http://schemas.microsoft.com/DRM/2007/03/protocols#sha256"></DigestMethod>` +
		`<DigestValue>` + digest + `</DigestValue>` +
		`</Reference>` +
		`</SignedInfo>`
}

func mainBody(la, signedInfo, signature, publicKey string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body>` +
		`<AcquireLicense xmlns="http://schemas.microsoft.com/DRM/2007/03/protocols">` +
		`<challenge>` +
		`<Challenge xmlns="http://schemas.microsoft.com/DRM/2007/03/protocols/messages">` +
		la +
		`<Signature xmlns="http://www.w3.org/2000/09/xmldsig#">` +
		signedInfo +
		`<SignatureValue>` + signature + `</SignatureValue>` +
		`<KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#">` +
		`<KeyValue>` +
		`<ECCKeyValue>` +
		`<PublicKey>` + publicKey + `</PublicKey>` +
		`</ECCKeyValue>` +
		`</KeyValue>` +
		`</KeyInfo>` +
		`</Signature>` +
		`</Challenge>` +
		`</challenge>` +
		`</AcquireLicense>` +
		`</soap:Body>` +
		`</soap:Envelope>`
}
