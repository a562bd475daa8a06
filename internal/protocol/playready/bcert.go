package playready

import (
	"github.com/Velocidex/ordereddict"

	"cdmkit/internal/codec"
)

// Certificate types carried in the BASIC attribute.
const (
	CertTypeUnknown          uint32 = 0x00
	CertTypePC               uint32 = 0x01
	CertTypeDevice           uint32 = 0x02
	CertTypeDomain           uint32 = 0x03
	CertTypeIssuer           uint32 = 0x04
	CertTypeCRLSigner        uint32 = 0x05
	CertTypeService          uint32 = 0x06
	CertTypeSilverlight      uint32 = 0x07
	CertTypeApplication      uint32 = 0x08
	CertTypeMetering         uint32 = 0x09
	CertTypeKeyFileSigner    uint32 = 0x0a
	CertTypeServer           uint32 = 0x0b
	CertTypeLicenseSigner    uint32 = 0x0c
	CertTypeSecureTimeServer uint32 = 0x0d
	CertTypeRProvModelAuth   uint32 = 0x0e
)

// Attribute tags.
const (
	AttrBasic            uint16 = 0x0001
	AttrDomain           uint16 = 0x0002
	AttrPC               uint16 = 0x0003
	AttrDevice           uint16 = 0x0004
	AttrFeature          uint16 = 0x0005
	AttrKey              uint16 = 0x0006
	AttrManufacturer     uint16 = 0x0007
	AttrSignature        uint16 = 0x0008
	AttrSilverlight      uint16 = 0x0009
	AttrMetering         uint16 = 0x000a
	AttrExtDataSignKey   uint16 = 0x000b
	AttrExtDataContainer uint16 = 0x000c
	AttrExtDataSignature uint16 = 0x000d
	AttrExtDataHWID      uint16 = 0x000e
	AttrServer           uint16 = 0x000f
	AttrSecurityVersion  uint16 = 0x0010
	AttrSecurityVersion2 uint16 = 0x0011
)

// Certificate and attribute flags.
const (
	CertFlagEmpty          uint32 = 0x0000
	CertFlagExtDataPresent uint32 = 0x0001

	AttrFlagEmpty          uint16 = 0x0000
	AttrFlagMustUnderstand uint16 = 0x0001
	AttrFlagContainer      uint16 = 0x0002
)

const (
	SignatureTypeP256 uint16 = 0x0001
	KeyTypeECC256     uint16 = 0x0001
)

// Key usages of a KEY attribute entry.
const (
	KeyUsageSign         uint32 = 0x01
	KeyUsageEncryptKey   uint32 = 0x02
	KeyUsageIssuerDevice uint32 = 0x06
)

// Features advertised by a leaf certificate.
const (
	FeatureSecureClock         uint32 = 0x04
	FeatureSupportsCRLs        uint32 = 0x09
	FeatureSupportsPR3Features uint32 = 0x0d
)

const (
	certHeaderSize  = 16
	chainHeaderSize = 20
	attrHeaderSize  = 8
)

// padded rounds a string length field up to a 4-byte boundary.
func padded(name string) codec.Length {
	return codec.RefFunc(name, func(n int) int { return (n + 3) &^ 3 })
}

func bits(name string) codec.Length {
	return codec.RefFunc(name, func(n int) int { return n / 8 })
}

var (
	basicInfo = codec.Struct(
		codec.F("cert_id", codec.Bytes(codec.Fixed(16))),
		codec.F("security_level", codec.Uint32),
		codec.F("flags", codec.Uint32),
		codec.F("cert_type", codec.Uint32),
		codec.F("public_key_digest", codec.Bytes(codec.Fixed(32))),
		codec.F("expiration_date", codec.Uint32),
		codec.F("client_id", codec.Bytes(codec.Fixed(16))),
	)

	domainInfo = codec.Struct(
		codec.F("service_id", codec.Bytes(codec.Fixed(16))),
		codec.F("account_id", codec.Bytes(codec.Fixed(16))),
		codec.F("revision_timestamp", codec.Uint32),
		codec.F("domain_url_length", codec.Uint32),
		codec.F("domain_url", codec.Bytes(padded("domain_url_length"))),
	)

	pcInfo = codec.Struct(
		codec.F("security_version", codec.Uint32),
	)

	deviceInfo = codec.Struct(
		codec.F("max_license", codec.Uint32),
		codec.F("max_header", codec.Uint32),
		codec.F("max_chain_depth", codec.Uint32),
	)

	featureInfo = codec.Struct(
		codec.F("feature_count", codec.Uint32),
		codec.F("features", codec.List(codec.Ref("feature_count"), codec.Uint32)),
	)

	certKey = codec.Struct(
		codec.F("type", codec.Uint16),
		codec.F("length", codec.Uint16),
		codec.F("flags", codec.Uint32),
		codec.F("key", codec.Bytes(bits("length"))),
		codec.F("usages_count", codec.Uint32),
		codec.F("usages", codec.List(codec.Ref("usages_count"), codec.Uint32)),
	)

	keyInfo = codec.Struct(
		codec.F("key_count", codec.Uint32),
		codec.F("cert_keys", codec.List(codec.Ref("key_count"), certKey)),
	)

	manufacturerInfo = codec.Struct(
		codec.F("flags", codec.Uint32),
		codec.F("manufacturer_name_length", codec.Uint32),
		codec.F("manufacturer_name", codec.Bytes(padded("manufacturer_name_length"))),
		codec.F("model_name_length", codec.Uint32),
		codec.F("model_name", codec.Bytes(padded("model_name_length"))),
		codec.F("model_number_length", codec.Uint32),
		codec.F("model_number", codec.Bytes(padded("model_number_length"))),
	)

	signatureInfo = codec.Struct(
		codec.F("signature_type", codec.Uint16),
		codec.F("signature_size", codec.Uint16),
		codec.F("signature", codec.Bytes(codec.Ref("signature_size"))),
		codec.F("signature_key_size", codec.Uint32),
		codec.F("signature_key", codec.Bytes(bits("signature_key_size"))),
	)

	silverlightInfo = codec.Struct(
		codec.F("security_version", codec.Uint32),
		codec.F("platform_identifier", codec.Uint32),
	)

	meteringInfo = codec.Struct(
		codec.F("metering_id", codec.Bytes(codec.Fixed(16))),
		codec.F("metering_url_length", codec.Uint32),
		codec.F("metering_url", codec.Bytes(padded("metering_url_length"))),
	)

	extDataSignKeyInfo = codec.Struct(
		codec.F("key_type", codec.Uint16),
		codec.F("key_length", codec.Uint16),
		codec.F("flags", codec.Uint32),
		codec.F("key", codec.Bytes(bits("key_length"))),
	)

	dataRecord = codec.Struct(
		codec.F("data_size", codec.Uint32),
		codec.F("data", codec.Bytes(codec.Ref("data_size"))),
	)

	extDataSignature = codec.Struct(
		codec.F("signature_type", codec.Uint16),
		codec.F("signature_size", codec.Uint16),
		codec.F("signature", codec.Bytes(codec.Ref("signature_size"))),
	)

	extDataContainer = codec.Struct(
		codec.F("record_count", codec.Uint32),
		codec.F("records", codec.List(codec.Ref("record_count"), dataRecord)),
		codec.F("signature", extDataSignature),
	)

	serverInfo = codec.Struct(
		codec.F("warning_days", codec.Uint32),
	)

	securityVersion = codec.Struct(
		codec.F("security_version", codec.Uint32),
		codec.F("platform_identifier", codec.Uint32),
	)

	attributeBody = codec.Bytes(codec.RefFunc("length", func(n int) int { return n - attrHeaderSize }))
)

// attributeCodec picks the payload layout of an attribute from its tag.
// Unknown tags keep their payload as raw bytes.
func attributeCodec(s *codec.Scope) (codec.Codec, error) {
	tag, err := s.Int("tag")
	if err != nil {
		return nil, err
	}
	switch uint16(tag) {
	case AttrBasic:
		return basicInfo, nil
	case AttrDomain:
		return domainInfo, nil
	case AttrPC:
		return pcInfo, nil
	case AttrDevice:
		return deviceInfo, nil
	case AttrFeature:
		return featureInfo, nil
	case AttrKey:
		return keyInfo, nil
	case AttrManufacturer:
		return manufacturerInfo, nil
	case AttrSignature:
		return signatureInfo, nil
	case AttrSilverlight:
		return silverlightInfo, nil
	case AttrMetering:
		return meteringInfo, nil
	case AttrExtDataSignKey:
		return extDataSignKeyInfo, nil
	case AttrExtDataContainer:
		return extDataContainer, nil
	case AttrExtDataSignature:
		return extDataSignature, nil
	case AttrServer:
		return serverInfo, nil
	case AttrSecurityVersion, AttrSecurityVersion2:
		return securityVersion, nil
	default:
		return attributeBody, nil
	}
}

var (
	// Attribute is one tagged, length-prefixed certificate attribute.
	Attribute = codec.Sized(
		codec.Struct(
			codec.F("flags", codec.Uint16),
			codec.F("tag", codec.Uint16),
			codec.F("length", codec.Uint32),
			codec.F("attribute", codec.Prefixed(
				codec.RefFunc("length", func(n int) int { return n - attrHeaderSize }),
				codec.Switch(attributeCodec),
			)),
		),
		codec.SizeField("length"),
	)

	// BCert is a single certificate. Its attributes fill total_length.
	BCert = codec.Struct(
		codec.F("signature", codec.Const([]byte("CERT"))),
		codec.F("version", codec.Uint32),
		codec.F("total_length", codec.Uint32),
		codec.F("certificate_length", codec.Uint32),
		codec.F("attributes", codec.Prefixed(
			codec.RefFunc("total_length", func(n int) int { return n - certHeaderSize }),
			codec.Greedy(Attribute),
		)),
	)

	// BCertChain is the certificate chain container, leaf first.
	BCertChain = codec.Struct(
		codec.F("signature", codec.Const([]byte("CHAI"))),
		codec.F("version", codec.Uint32),
		codec.F("total_length", codec.Uint32),
		codec.F("flags", codec.Uint32),
		codec.F("certificate_count", codec.Uint32),
		codec.F("certificates", codec.Prefixed(
			codec.RefFunc("total_length", func(n int) int { return n - chainHeaderSize }),
			codec.Greedy(BCert),
		)),
	)
)

// newAttribute wraps a payload with MUST_UNDERSTAND flags and a length
// computed from its encoding.
func newAttribute(tag uint16, payloadCodec codec.Codec, payload *ordereddict.Dict) (*ordereddict.Dict, error) {
	body, err := codec.Encode(payloadCodec, payload)
	if err != nil {
		return nil, err
	}
	return ordereddict.NewDict().
		Set("flags", uint32(AttrFlagMustUnderstand)).
		Set("tag", uint32(tag)).
		Set("length", uint32(len(body)+attrHeaderSize)).
		Set("attribute", payload), nil
}
