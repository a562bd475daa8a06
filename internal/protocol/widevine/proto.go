package widevine

import (
	"fmt"

	"cdmkit/internal/domain"
)

// MessageType is the SignedMessage.type enum.
type MessageType uint64

const (
	MessageLicenseRequest            MessageType = 1
	MessageLicense                   MessageType = 2
	MessageErrorResponse             MessageType = 3
	MessageServiceCertificateRequest MessageType = 4
	MessageServiceCertificate        MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageLicenseRequest:
		return "LICENSE_REQUEST"
	case MessageLicense:
		return "LICENSE"
	case MessageErrorResponse:
		return "ERROR_RESPONSE"
	case MessageServiceCertificateRequest:
		return "SERVICE_CERTIFICATE_REQUEST"
	case MessageServiceCertificate:
		return "SERVICE_CERTIFICATE"
	}
	return fmt.Sprintf("MessageType(%d)", uint64(t))
}

// LicenseType is the requested license persistence.
type LicenseType uint64

const (
	LicenseStreaming LicenseType = 1
	LicenseOffline   LicenseType = 2
)

// RequestType is LicenseRequest.type.
type RequestType uint64

const (
	RequestNew     RequestType = 1
	RequestRenewal RequestType = 2
	RequestRelease RequestType = 3
)

// ProtocolVersion is LicenseRequest.protocol_version.
type ProtocolVersion uint64

const (
	ProtocolVersion20 ProtocolVersion = 20
	ProtocolVersion21 ProtocolVersion = 21
	ProtocolVersion22 ProtocolVersion = 22
)

// SignedMessage is the outer envelope of every license exchange message.
type SignedMessage struct {
	Type                 MessageType
	Msg                  []byte
	Signature            []byte
	SessionKey           []byte
	OemcryptoCoreMessage []byte
}

// Marshal serialises m.
func (m *SignedMessage) Marshal() []byte {
	var e encoder
	e.varint(1, uint64(m.Type))
	e.bytes(2, m.Msg)
	e.bytes(3, m.Signature)
	e.bytes(4, m.SessionKey)
	e.bytes(9, m.OemcryptoCoreMessage)
	return e
}

// UnmarshalSignedMessage parses a SignedMessage.
func UnmarshalSignedMessage(b []byte) (*SignedMessage, error) {
	m := &SignedMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var v uint64
			v, err = f.varint()
			m.Type = MessageType(v)
		case 2:
			m.Msg, err = f.bytes()
		case 3:
			m.Signature, err = f.bytes()
		case 4:
			m.SessionKey, err = f.bytes()
		case 9:
			m.OemcryptoCoreMessage, err = f.bytes()
		}
		return err
	})
	if err != nil {
		return nil, domain.Malformed(err, "signed message")
	}
	if m.Type == 0 {
		return nil, domain.Malformed(errWireType, "signed message: no type")
	}
	return m, nil
}

// ContentIdentification carries the PSSH data of a request.
type ContentIdentification struct {
	PsshData    [][]byte
	LicenseType LicenseType
	RequestID   []byte
}

func (c *ContentIdentification) marshal() []byte {
	var inner encoder
	for _, p := range c.PsshData {
		inner.bytes(1, p)
	}
	inner.varint(2, uint64(c.LicenseType))
	inner.bytes(3, c.RequestID)
	var e encoder
	e.bytes(1, inner)
	return e
}

func unmarshalContentIdentification(b []byte) (ContentIdentification, error) {
	var c ContentIdentification
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		data, err := f.bytes()
		if err != nil {
			return err
		}
		return walk(data, func(f field) (err error) {
			switch f.num {
			case 1:
				var p []byte
				p, err = f.bytes()
				c.PsshData = append(c.PsshData, p)
			case 2:
				var v uint64
				v, err = f.varint()
				c.LicenseType = LicenseType(v)
			case 3:
				c.RequestID, err = f.bytes()
			}
			return err
		})
	})
	return c, err
}

// LicenseRequest asks for the keys named by ContentID. Exactly one of
// ClientID (serialised ClientIdentification) and EncryptedClientID is set.
type LicenseRequest struct {
	ClientID          []byte
	EncryptedClientID *EncryptedClientIdentification
	ContentID         ContentIdentification
	Type              RequestType
	RequestTime       int64
	ProtocolVersion   ProtocolVersion
}

// Marshal serialises r.
func (r *LicenseRequest) Marshal() []byte {
	var e encoder
	e.bytes(1, r.ClientID)
	e.bytes(2, r.ContentID.marshal())
	e.varint(3, uint64(r.Type))
	e.varint(4, uint64(r.RequestTime))
	e.varint(6, uint64(r.ProtocolVersion))
	if r.EncryptedClientID != nil {
		e.bytes(8, r.EncryptedClientID.Marshal())
	}
	return e
}

// UnmarshalLicenseRequest parses a LicenseRequest.
func UnmarshalLicenseRequest(b []byte) (*LicenseRequest, error) {
	r := &LicenseRequest{}
	err := walk(b, func(f field) (err error) {
		var v uint64
		var data []byte
		switch f.num {
		case 1:
			r.ClientID, err = f.bytes()
		case 2:
			if data, err = f.bytes(); err == nil {
				r.ContentID, err = unmarshalContentIdentification(data)
			}
		case 3:
			v, err = f.varint()
			r.Type = RequestType(v)
		case 4:
			v, err = f.varint()
			r.RequestTime = int64(v)
		case 6:
			v, err = f.varint()
			r.ProtocolVersion = ProtocolVersion(v)
		case 8:
			if data, err = f.bytes(); err == nil {
				r.EncryptedClientID, err = UnmarshalEncryptedClientIdentification(data)
			}
		}
		return err
	})
	if err != nil {
		return nil, domain.Malformed(err, "license request")
	}
	return r, nil
}

// LicenseIdentification names a license and the request it answers.
type LicenseIdentification struct {
	RequestID []byte
	SessionID []byte
	Type      LicenseType
	Version   uint64
}

func (l *LicenseIdentification) marshal() []byte {
	var e encoder
	e.bytes(1, l.RequestID)
	e.bytes(2, l.SessionID)
	e.varint(4, uint64(l.Type))
	e.varint(5, l.Version)
	return e
}

// KeyType is KeyContainer.type.
type KeyType uint64

const (
	KeySigning         KeyType = 1
	KeyContent         KeyType = 2
	KeyKeyControl      KeyType = 3
	KeyOperatorSession KeyType = 4
	KeyEntitlement     KeyType = 5
	KeyOEMContent      KeyType = 6
)

func (t KeyType) String() string {
	switch t {
	case KeySigning:
		return "SIGNING"
	case KeyContent:
		return "CONTENT"
	case KeyKeyControl:
		return "KEY_CONTROL"
	case KeyOperatorSession:
		return "OPERATOR_SESSION"
	case KeyEntitlement:
		return "ENTITLEMENT"
	case KeyOEMContent:
		return "OEM_CONTENT"
	}
	return fmt.Sprintf("KeyType(%d)", uint64(t))
}

// SecurityLevel is KeyContainer.level.
type SecurityLevel uint64

func (l SecurityLevel) String() string {
	switch l {
	case 1:
		return "SW_SECURE_CRYPTO"
	case 2:
		return "SW_SECURE_DECODE"
	case 3:
		return "HW_SECURE_CRYPTO"
	case 4:
		return "HW_SECURE_DECODE"
	case 5:
		return "HW_SECURE_ALL"
	}
	return ""
}

// OperatorSessionKeyPermissions are the allowed uses of an operator
// session key.
type OperatorSessionKeyPermissions struct {
	AllowEncrypt         bool
	AllowDecrypt         bool
	AllowSign            bool
	AllowSignatureVerify bool
}

// Names lists the allowed operations.
func (p *OperatorSessionKeyPermissions) Names() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, perm := range []struct {
		ok   bool
		name string
	}{
		{p.AllowEncrypt, "allow_encrypt"},
		{p.AllowDecrypt, "allow_decrypt"},
		{p.AllowSign, "allow_sign"},
		{p.AllowSignatureVerify, "allow_signature_verify"},
	} {
		if perm.ok {
			out = append(out, perm.name)
		}
	}
	return out
}

// KeyContainer is one wrapped key of a License.
type KeyContainer struct {
	ID          []byte
	IV          []byte
	Key         []byte
	Type        KeyType
	Level       SecurityLevel
	TrackLabel  string
	Permissions *OperatorSessionKeyPermissions
}

func (k *KeyContainer) marshal() []byte {
	var e encoder
	e.bytes(1, k.ID)
	e.bytes(2, k.IV)
	e.bytes(3, k.Key)
	e.varint(4, uint64(k.Type))
	e.varint(5, uint64(k.Level))
	if p := k.Permissions; p != nil {
		var pe encoder
		pe.bool(1, p.AllowEncrypt)
		pe.bool(2, p.AllowDecrypt)
		pe.bool(3, p.AllowSign)
		pe.bool(4, p.AllowSignatureVerify)
		if pe == nil {
			pe = encoder{}
		}
		e.bytes(9, pe)
	}
	e.string(12, k.TrackLabel)
	return e
}

func unmarshalKeyContainer(b []byte) (KeyContainer, error) {
	var k KeyContainer
	err := walk(b, func(f field) (err error) {
		var v uint64
		switch f.num {
		case 1:
			k.ID, err = f.bytes()
		case 2:
			k.IV, err = f.bytes()
		case 3:
			k.Key, err = f.bytes()
		case 4:
			v, err = f.varint()
			k.Type = KeyType(v)
		case 5:
			v, err = f.varint()
			k.Level = SecurityLevel(v)
		case 9:
			var data []byte
			if data, err = f.bytes(); err != nil {
				return err
			}
			p := &OperatorSessionKeyPermissions{}
			err = walk(data, func(f field) error {
				v, err := f.varint()
				if err != nil {
					return err
				}
				switch f.num {
				case 1:
					p.AllowEncrypt = v != 0
				case 2:
					p.AllowDecrypt = v != 0
				case 3:
					p.AllowSign = v != 0
				case 4:
					p.AllowSignatureVerify = v != 0
				}
				return nil
			})
			k.Permissions = p
		case 12:
			var s []byte
			s, err = f.bytes()
			k.TrackLabel = string(s)
		}
		return err
	})
	return k, err
}

// License is the body of a LICENSE SignedMessage.
type License struct {
	ID        LicenseIdentification
	Keys      []KeyContainer
	StartTime int64
}

// Marshal serialises l.
func (l *License) Marshal() []byte {
	var e encoder
	e.bytes(1, l.ID.marshal())
	for i := range l.Keys {
		e.bytes(3, l.Keys[i].marshal())
	}
	e.varint(4, uint64(l.StartTime))
	return e
}

// UnmarshalLicense parses a License.
func UnmarshalLicense(b []byte) (*License, error) {
	l := &License{}
	err := walk(b, func(f field) (err error) {
		var data []byte
		switch f.num {
		case 1:
			if data, err = f.bytes(); err != nil {
				return err
			}
			err = walk(data, func(f field) (err error) {
				var v uint64
				switch f.num {
				case 1:
					l.ID.RequestID, err = f.bytes()
				case 2:
					l.ID.SessionID, err = f.bytes()
				case 4:
					v, err = f.varint()
					l.ID.Type = LicenseType(v)
				case 5:
					l.ID.Version, err = f.varint()
				}
				return err
			})
		case 3:
			if data, err = f.bytes(); err != nil {
				return err
			}
			var k KeyContainer
			if k, err = unmarshalKeyContainer(data); err == nil {
				l.Keys = append(l.Keys, k)
			}
		case 4:
			var v uint64
			v, err = f.varint()
			l.StartTime = int64(v)
		}
		return err
	})
	if err != nil {
		return nil, domain.Malformed(err, "license")
	}
	return l, nil
}

// NameValue is one client_info entry.
type NameValue struct {
	Name  string
	Value string
}

// TokenType is ClientIdentification.type.
type TokenType uint64

const (
	TokenKeybox                TokenType = 0
	TokenDrmDeviceCertificate  TokenType = 1
	TokenRemoteAttestationCert TokenType = 2
	TokenOEMDeviceCertificate  TokenType = 3
)

// ClientIdentification is the device's identity as sent to the server.
// Raw keeps the exact serialised bytes so requests reproduce them.
type ClientIdentification struct {
	Raw        []byte
	Type       TokenType
	Token      []byte
	ClientInfo []NameValue
	VMPData    []byte
}

// UnmarshalClientIdentification parses a ClientIdentification blob.
func UnmarshalClientIdentification(b []byte) (*ClientIdentification, error) {
	c := &ClientIdentification{Raw: append([]byte(nil), b...)}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var v uint64
			v, err = f.varint()
			c.Type = TokenType(v)
		case 2:
			c.Token, err = f.bytes()
		case 3:
			var data []byte
			if data, err = f.bytes(); err != nil {
				return err
			}
			var nv NameValue
			err = walk(data, func(f field) error {
				s, err := f.bytes()
				switch f.num {
				case 1:
					nv.Name = string(s)
				case 2:
					nv.Value = string(s)
				}
				return err
			})
			c.ClientInfo = append(c.ClientInfo, nv)
		case 7:
			c.VMPData, err = f.bytes()
		}
		return err
	})
	if err != nil {
		return nil, domain.Malformed(err, "client identification")
	}
	return c, nil
}

// MarshalClientIdentification builds a ClientIdentification blob.
func MarshalClientIdentification(t TokenType, token []byte, info []NameValue) []byte {
	var e encoder
	e.required(1, uint64(t))
	e.bytes(2, token)
	for _, nv := range info {
		var ne encoder
		ne.string(1, nv.Name)
		ne.string(2, nv.Value)
		e.bytes(3, ne)
	}
	return e
}

// Info returns a client_info value.
func (c *ClientIdentification) Info(name string) string {
	for _, nv := range c.ClientInfo {
		if nv.Name == name {
			return nv.Value
		}
	}
	return ""
}

// EncryptedClientIdentification is the client id encrypted to a service
// certificate (privacy mode).
type EncryptedClientIdentification struct {
	ProviderID                     string
	ServiceCertificateSerialNumber []byte
	EncryptedClientID              []byte
	EncryptedClientIDIV            []byte
	EncryptedPrivacyKey            []byte
}

// Marshal serialises e.
func (m *EncryptedClientIdentification) Marshal() []byte {
	var e encoder
	e.string(1, m.ProviderID)
	e.bytes(2, m.ServiceCertificateSerialNumber)
	e.bytes(3, m.EncryptedClientID)
	e.bytes(4, m.EncryptedClientIDIV)
	e.bytes(5, m.EncryptedPrivacyKey)
	return e
}

// UnmarshalEncryptedClientIdentification parses an
// EncryptedClientIdentification.
func UnmarshalEncryptedClientIdentification(b []byte) (*EncryptedClientIdentification, error) {
	m := &EncryptedClientIdentification{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var s []byte
			s, err = f.bytes()
			m.ProviderID = string(s)
		case 2:
			m.ServiceCertificateSerialNumber, err = f.bytes()
		case 3:
			m.EncryptedClientID, err = f.bytes()
		case 4:
			m.EncryptedClientIDIV, err = f.bytes()
		case 5:
			m.EncryptedPrivacyKey, err = f.bytes()
		}
		return err
	})
	if err != nil {
		return nil, domain.Malformed(err, "encrypted client identification")
	}
	return m, nil
}

// SignedDrmCertificate wraps a serialised DrmCertificate with its signature.
type SignedDrmCertificate struct {
	DrmCertificate []byte
	Signature      []byte
	Signer         []byte
}

// Marshal serialises c.
func (c *SignedDrmCertificate) Marshal() []byte {
	var e encoder
	e.bytes(1, c.DrmCertificate)
	e.bytes(2, c.Signature)
	e.bytes(3, c.Signer)
	return e
}

// UnmarshalSignedDrmCertificate parses a SignedDrmCertificate.
func UnmarshalSignedDrmCertificate(b []byte) (*SignedDrmCertificate, error) {
	c := &SignedDrmCertificate{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			c.DrmCertificate, err = f.bytes()
		case 2:
			c.Signature, err = f.bytes()
		case 3:
			c.Signer, err = f.bytes()
		}
		return err
	})
	if err != nil {
		return nil, domain.Malformed(err, "signed drm certificate")
	}
	if len(c.DrmCertificate) == 0 {
		return nil, domain.Malformed(errWireType, "signed drm certificate: empty certificate")
	}
	return c, nil
}

// CertificateType is DrmCertificate.type.
type CertificateType uint64

const (
	CertificateRoot        CertificateType = 0
	CertificateDeviceModel CertificateType = 1
	CertificateDevice      CertificateType = 2
	CertificateService     CertificateType = 3
	CertificateProvisioner CertificateType = 4
)

// DrmCertificate describes a device or service key.
type DrmCertificate struct {
	Type         CertificateType
	SerialNumber []byte
	CreationTime int64
	PublicKey    []byte
	SystemID     uint32
	ProviderID   string
}

// Marshal serialises c. Type is always written since ROOT is zero.
func (c *DrmCertificate) Marshal() []byte {
	var e encoder
	e.required(1, uint64(c.Type))
	e.bytes(2, c.SerialNumber)
	e.varint(3, uint64(c.CreationTime))
	e.bytes(4, c.PublicKey)
	e.varint(5, uint64(c.SystemID))
	e.string(7, c.ProviderID)
	return e
}

// UnmarshalDrmCertificate parses a DrmCertificate.
func UnmarshalDrmCertificate(b []byte) (*DrmCertificate, error) {
	c := &DrmCertificate{}
	err := walk(b, func(f field) (err error) {
		var v uint64
		switch f.num {
		case 1:
			v, err = f.varint()
			c.Type = CertificateType(v)
		case 2:
			c.SerialNumber, err = f.bytes()
		case 3:
			v, err = f.varint()
			c.CreationTime = int64(v)
		case 4:
			c.PublicKey, err = f.bytes()
		case 5:
			v, err = f.varint()
			c.SystemID = uint32(v)
		case 7:
			var s []byte
			s, err = f.bytes()
			c.ProviderID = string(s)
		}
		return err
	})
	if err != nil {
		return nil, domain.Malformed(err, "drm certificate")
	}
	return c, nil
}

// PsshData is the Widevine payload of a PSSH box.
type PsshData struct {
	KeyIDs    [][]byte
	Provider  string
	ContentID []byte
}

// Marshal serialises p.
func (p *PsshData) Marshal() []byte {
	var e encoder
	for _, kid := range p.KeyIDs {
		e.bytes(2, kid)
	}
	e.string(3, p.Provider)
	e.bytes(4, p.ContentID)
	return e
}

func unmarshalPsshData(b []byte) (*PsshData, error) {
	p := &PsshData{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			var kid []byte
			kid, err = f.bytes()
			p.KeyIDs = append(p.KeyIDs, kid)
		case 3:
			var s []byte
			s, err = f.bytes()
			p.Provider = string(s)
		case 4:
			p.ContentID, err = f.bytes()
		}
		return err
	})
	return p, err
}
