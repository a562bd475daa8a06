package playready

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/Velocidex/ordereddict"
	"github.com/pkg/errors"

	"cdmkit/internal/codec"
	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// RootIssuerKey is the public key the last certificate of every production
// chain is signed with.
var RootIssuerKey = mustHex("864d61cff2256e422c568b3c28001cfb3e1527658584ba0521b79b1828d936de" +
	"1d826a8fc3e6e7fa7a90d5ca2946f1f64a2efb9f5dcffe7e434eb44293fac5ab")

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Certificate is one decoded BCert.
type Certificate struct {
	parsed *ordereddict.Dict
}

// ParseCertificate decodes a single BCert.
func ParseCertificate(data []byte) (*Certificate, error) {
	v, _, err := codec.Decode(BCert, data)
	if err != nil {
		return nil, domain.Malformed(err, "certificate")
	}
	return &Certificate{parsed: v.(*ordereddict.Dict)}, nil
}

// Dump re-encodes the certificate.
func (c *Certificate) Dump() ([]byte, error) {
	return codec.Encode(BCert, c.parsed)
}

// Attributes returns the raw attribute records in order.
func (c *Certificate) Attributes() []*ordereddict.Dict {
	items := codec.GetList(c.parsed, "attributes")
	out := make([]*ordereddict.Dict, 0, len(items))
	for _, item := range items {
		if d, ok := item.(*ordereddict.Dict); ok {
			out = append(out, d)
		}
	}
	return out
}

// Attribute returns the first attribute record with tag, or nil.
func (c *Certificate) Attribute(tag uint16) *ordereddict.Dict {
	for _, attr := range c.Attributes() {
		if t, _ := codec.GetUint(attr, "tag"); uint16(t) == tag {
			return attr
		}
	}
	return nil
}

// payload returns the decoded body of the attribute with tag.
func (c *Certificate) payload(tag uint16) *ordereddict.Dict {
	return codec.GetDict(c.Attribute(tag), "attribute")
}

// SecurityLevel is the BASIC attribute's security level, 0 when absent.
func (c *Certificate) SecurityLevel() uint32 {
	level, _ := codec.GetUint(c.payload(AttrBasic), "security_level")
	return level
}

// CertType is the BASIC attribute's certificate type.
func (c *Certificate) CertType() uint32 {
	t, _ := codec.GetUint(c.payload(AttrBasic), "cert_type")
	return t
}

// Name joins the manufacturer, model name and model number.
func (c *Certificate) Name() string {
	info := c.payload(AttrManufacturer)
	if info == nil {
		return ""
	}
	parts := []string{
		unpad(codec.GetBytes(info, "manufacturer_name")),
		unpad(codec.GetBytes(info, "model_name")),
		unpad(codec.GetBytes(info, "model_number")),
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func unpad(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// KeyWithUsage returns the first public key tagged with usage.
func (c *Certificate) KeyWithUsage(usage uint32) []byte {
	for _, item := range codec.GetList(c.payload(AttrKey), "cert_keys") {
		key, ok := item.(*ordereddict.Dict)
		if !ok {
			continue
		}
		for _, u := range codec.GetUints(key, "usages") {
			if u == usage {
				return codec.GetBytes(key, "key")
			}
		}
	}
	return nil
}

// IssuerKey is the key this certificate vouches for the next one down with.
func (c *Certificate) IssuerKey() []byte { return c.KeyWithUsage(KeyUsageIssuerDevice) }

// Verify checks that the certificate was signed by issuerKey and returns the
// issuer key it carries for the certificate below it, possibly nil.
func (c *Certificate) Verify(issuerKey []byte, index int) ([]byte, error) {
	sigAttr := c.Attribute(AttrSignature)
	sig := codec.GetDict(sigAttr, "attribute")
	if sig == nil {
		return nil, &domain.CertificateError{Index: index, Reason: "no signature object"}
	}
	if !bytes.Equal(issuerKey, codec.GetBytes(sig, "signature_key")) {
		return nil, &domain.CertificateError{Index: index, Reason: "signature key does not match issuer"}
	}

	full, err := c.Dump()
	if err != nil {
		return nil, &domain.CertificateError{Index: index, Reason: err.Error()}
	}
	sigLen, _ := codec.GetUint(sigAttr, "length")
	if int(sigLen) > len(full) {
		return nil, &domain.CertificateError{Index: index, Reason: "signature object longer than certificate"}
	}
	signed := full[:len(full)-int(sigLen)]
	if !crypto.VerifyECDSA(issuerKey, signed, codec.GetBytes(sig, "signature")) {
		return nil, &domain.CertificateError{Index: index, Reason: "signature is not authentic"}
	}
	return c.IssuerKey(), nil
}

// LeafParams describes a device certificate to issue under a group chain.
type LeafParams struct {
	CertID        []byte
	SecurityLevel uint32
	ClientID      []byte
	SigningKey    *crypto.EccKey
	EncryptionKey *crypto.EccKey
	GroupKey      *crypto.EccKey
	Parent        *CertificateChain
	// Expiry defaults to 0xffffffff, never.
	Expiry uint32
}

// NewLeafCertificate builds and signs a device certificate. The
// manufacturer attribute is copied from the parent's first certificate.
func NewLeafCertificate(p LeafParams) (*Certificate, error) {
	if len(p.CertID) != 16 || len(p.ClientID) != 16 {
		return nil, errors.New("leaf: cert id and client id must be 16 bytes")
	}
	if p.SigningKey == nil || p.EncryptionKey == nil || p.GroupKey == nil || p.Parent == nil {
		return nil, errors.New("leaf: signing, encryption and group keys and a parent chain are required")
	}
	expiry := p.Expiry
	if expiry == 0 {
		expiry = 0xffffffff
	}

	parentLeaf, err := p.Parent.Get(0)
	if err != nil {
		return nil, err
	}
	manufacturer := parentLeaf.Attribute(AttrManufacturer)
	if manufacturer == nil {
		return nil, &domain.CertificateError{Index: 0, Reason: "parent has no manufacturer info"}
	}

	basic, err := newAttribute(AttrBasic, basicInfo, ordereddict.NewDict().
		Set("cert_id", p.CertID).
		Set("security_level", p.SecurityLevel).
		Set("flags", CertFlagEmpty).
		Set("cert_type", CertTypeDevice).
		Set("public_key_digest", p.SigningKey.PublicDigest()).
		Set("expiration_date", expiry).
		Set("client_id", p.ClientID))
	if err != nil {
		return nil, err
	}

	device, err := newAttribute(AttrDevice, deviceInfo, ordereddict.NewDict().
		Set("max_license", uint32(10240)).
		Set("max_header", uint32(15360)).
		Set("max_chain_depth", uint32(2)))
	if err != nil {
		return nil, err
	}

	features := []any{FeatureSecureClock, FeatureSupportsCRLs, FeatureSupportsPR3Features}
	feature, err := newAttribute(AttrFeature, featureInfo, ordereddict.NewDict().
		Set("feature_count", uint32(len(features))).
		Set("features", features))
	if err != nil {
		return nil, err
	}

	certKey := func(pub []byte, usage uint32) *ordereddict.Dict {
		return ordereddict.NewDict().
			Set("type", uint32(KeyTypeECC256)).
			Set("length", uint32(len(pub)*8)).
			Set("flags", CertFlagEmpty).
			Set("key", pub).
			Set("usages_count", uint32(1)).
			Set("usages", []any{usage})
	}
	keys, err := newAttribute(AttrKey, keyInfo, ordereddict.NewDict().
		Set("key_count", uint32(2)).
		Set("cert_keys", []any{
			certKey(p.SigningKey.PublicBytes(), KeyUsageSign),
			certKey(p.EncryptionKey.PublicBytes(), KeyUsageEncryptKey),
		}))
	if err != nil {
		return nil, err
	}

	return signCertificate([]any{basic, device, feature, keys, manufacturer}, p.GroupKey)
}

// signCertificate assembles a certificate from attributes and appends a
// signature attribute made with signer over everything before it.
func signCertificate(attributes []any, signer *crypto.EccKey) (*Certificate, error) {
	payloadLen := certHeaderSize
	for _, a := range attributes {
		n, _ := codec.GetUint(a.(*ordereddict.Dict), "length")
		payloadLen += int(n)
	}

	signerPub := signer.PublicBytes()
	sigBody := ordereddict.NewDict().
		Set("signature_type", uint32(SignatureTypeP256)).
		Set("signature_size", uint32(2*crypto.EccScalarSize)).
		Set("signature", make([]byte, 2*crypto.EccScalarSize)).
		Set("signature_key_size", uint32(len(signerPub)*8)).
		Set("signature_key", signerPub)
	signature, err := newAttribute(AttrSignature, signatureInfo, sigBody)
	if err != nil {
		return nil, err
	}
	sigLen, _ := codec.GetUint(signature, "length")

	cert := ordereddict.NewDict().
		Set("signature", []byte("CERT")).
		Set("version", uint32(1)).
		Set("total_length", uint32(payloadLen)+sigLen).
		Set("certificate_length", uint32(payloadLen)).
		Set("attributes", attributes)

	encoded, err := codec.Encode(BCert, cert)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(encoded[:payloadLen])
	if err != nil {
		return nil, err
	}
	sigBody.Set("signature", sig)
	cert.Set("attributes", append(append([]any{}, attributes...), signature))

	return &Certificate{parsed: cert}, nil
}

// ChainOption configures a CertificateChain.
type ChainOption func(*CertificateChain)

// WithRootKey replaces the trust anchor used by Verify.
func WithRootKey(pub []byte) ChainOption {
	return func(c *CertificateChain) { c.root = append([]byte(nil), pub...) }
}

// CertificateChain is an ordered list of certificates, leaf first.
type CertificateChain struct {
	parsed *ordereddict.Dict
	root   []byte
}

// NewCertificateChain returns an empty chain.
func NewCertificateChain(opts ...ChainOption) *CertificateChain {
	c := &CertificateChain{
		parsed: ordereddict.NewDict().
			Set("signature", []byte("CHAI")).
			Set("version", uint32(1)).
			Set("total_length", uint32(chainHeaderSize)).
			Set("flags", uint32(0)).
			Set("certificate_count", uint32(0)).
			Set("certificates", []any{}),
		root: RootIssuerKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseCertificateChain decodes a BCert chain.
func ParseCertificateChain(data []byte, opts ...ChainOption) (*CertificateChain, error) {
	v, _, err := codec.Decode(BCertChain, data)
	if err != nil {
		return nil, domain.Malformed(err, "certificate chain")
	}
	c := &CertificateChain{parsed: v.(*ordereddict.Dict), root: RootIssuerKey}
	for _, opt := range opts {
		opt(c)
	}
	if got, want := len(c.certificates()), c.Count(); got != want {
		return nil, domain.Malformed(codec.ErrLengthMismatch, "chain declares %d certificates, holds %d", want, got)
	}
	size := chainHeaderSize
	for _, cert := range c.certificates() {
		d, _ := cert.(*ordereddict.Dict)
		n, _ := codec.GetUint(d, "total_length")
		size += int(n)
	}
	if size != c.TotalLength() {
		return nil, domain.Malformed(codec.ErrLengthMismatch, "chain declares %d bytes, certificates take %d", c.TotalLength(), size)
	}
	return c, nil
}

// Dump re-encodes the chain.
func (c *CertificateChain) Dump() ([]byte, error) {
	return codec.Encode(BCertChain, c.parsed)
}

// Clone returns an independent copy of the chain with the same root key.
func (c *CertificateChain) Clone() (*CertificateChain, error) {
	raw, err := c.Dump()
	if err != nil {
		return nil, err
	}
	return ParseCertificateChain(raw, WithRootKey(c.root))
}

// RootKey returns the trust anchor used by Verify.
func (c *CertificateChain) RootKey() []byte { return c.root }

func (c *CertificateChain) certificates() []any {
	return codec.GetList(c.parsed, "certificates")
}

// Count is the declared certificate count.
func (c *CertificateChain) Count() int {
	n, _ := codec.GetUint(c.parsed, "certificate_count")
	return int(n)
}

// TotalLength is the declared byte length of the chain.
func (c *CertificateChain) TotalLength() int {
	n, _ := codec.GetUint(c.parsed, "total_length")
	return int(n)
}

// Get returns the certificate at index.
func (c *CertificateChain) Get(index int) (*Certificate, error) {
	certs := c.certificates()
	if len(certs) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidCertificateChain, "chain does not contain any certificates")
	}
	if index < 0 || index >= len(certs) {
		return nil, errors.Errorf("no certificate at index %d, %d total", index, len(certs))
	}
	d, ok := certs[index].(*ordereddict.Dict)
	if !ok {
		return nil, errors.Wrapf(domain.ErrMalformedInput, "certificate %d", index)
	}
	return &Certificate{parsed: d}, nil
}

func (c *CertificateChain) adjust(certs []any, delta int) {
	c.parsed.Set("certificates", certs)
	c.parsed.Set("certificate_count", uint32(len(certs)))
	c.parsed.Set("total_length", uint32(c.TotalLength()+delta))
}

// Append adds cert after the last certificate.
func (c *CertificateChain) Append(cert *Certificate) error {
	raw, err := cert.Dump()
	if err != nil {
		return err
	}
	certs := append(append([]any{}, c.certificates()...), cert.parsed)
	c.adjust(certs, len(raw))
	return nil
}

// Prepend adds cert as the new leaf.
func (c *CertificateChain) Prepend(cert *Certificate) error {
	raw, err := cert.Dump()
	if err != nil {
		return err
	}
	certs := append([]any{cert.parsed}, c.certificates()...)
	c.adjust(certs, len(raw))
	return nil
}

// Remove drops the certificate at index.
func (c *CertificateChain) Remove(index int) error {
	cert, err := c.Get(index)
	if err != nil {
		return err
	}
	raw, err := cert.Dump()
	if err != nil {
		return err
	}
	old := c.certificates()
	certs := make([]any, 0, len(old)-1)
	certs = append(certs, old[:index]...)
	certs = append(certs, old[index+1:]...)
	c.adjust(certs, -len(raw))
	return nil
}

// Verify walks the chain from the root-signed certificate to the leaf.
func (c *CertificateChain) Verify() error {
	issuer := c.root
	n := len(c.certificates())
	if n == 0 {
		return errors.Wrap(domain.ErrInvalidCertificateChain, "chain does not contain any certificates")
	}
	for i := n - 1; i >= 0; i-- {
		cert, err := c.Get(i)
		if err != nil {
			return err
		}
		issuer, err = cert.Verify(issuer, i)
		if err != nil {
			return domain.Tag(domain.ErrInvalidCertificateChain, err, "")
		}
		if issuer == nil && i != 0 {
			return domain.Tag(domain.ErrInvalidCertificateChain,
				&domain.CertificateError{Index: i, Reason: "no issuer key for the next certificate"}, "")
		}
	}
	return nil
}

// SecurityLevel is the leaf certificate's security level.
func (c *CertificateChain) SecurityLevel() uint32 {
	leaf, err := c.Get(0)
	if err != nil {
		return 0
	}
	return leaf.SecurityLevel()
}

// Name is the leaf certificate's manufacturer/model string.
func (c *CertificateChain) Name() string {
	leaf, err := c.Get(0)
	if err != nil {
		return ""
	}
	return leaf.Name()
}
