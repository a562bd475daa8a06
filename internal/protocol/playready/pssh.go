package playready

import (
	"encoding/base64"
	"strings"

	"github.com/Velocidex/ordereddict"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"cdmkit/internal/codec"
	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/pssh"
)

// SystemID identifies PlayReady PSSH boxes.
var SystemID = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")

const recordTypeWRMHeader = 1

var (
	playReadyObject = codec.Struct(
		codec.F("type", codec.Uint16LE),
		codec.F("length", codec.Uint16LE),
		codec.F("data", codec.Bytes(codec.Ref("length"))),
	)

	playReadyHeader = codec.Struct(
		codec.F("length", codec.Uint32LE),
		codec.F("record_count", codec.Uint16LE),
		codec.F("records", codec.List(codec.Ref("record_count"), playReadyObject)),
	)

	utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// Pssh holds the WRM headers found in PlayReady init data.
type Pssh struct {
	WRMHeaders []string
}

// ParsePssh accepts base64 text or raw bytes: a PSSH box, a PlayReady
// header object, a single record, or a bare UTF-16LE WRM header.
func ParsePssh(data []byte) (*Pssh, error) {
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data))); err == nil && len(decoded) > 0 {
		data = decoded
	}
	headers, err := readWRMHeaders(data)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, h := range headers {
		if h != "" {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil, domain.Malformed(codec.ErrInvalidValue, "pssh: no WRM header")
	}
	return &Pssh{WRMHeaders: out}, nil
}

func readWRMHeaders(data []byte) ([]string, error) {
	if s, ok := tryUTF16(data); ok {
		return []string{s}, nil
	}
	if payload, ok := pssh.Find(data, SystemID); ok {
		if s, ok := tryUTF16(payload); ok {
			return []string{s}, nil
		}
		return readHeaderObject(payload)
	}
	if len(data) >= 2 && uint16(data[0])|uint16(data[1])<<8 > 3 {
		return readHeaderObject(data)
	}
	v, _, err := codec.Decode(playReadyObject, data)
	if err != nil {
		return nil, domain.Malformed(err, "pssh record")
	}
	return []string{recordHeader(v.(*ordereddict.Dict))}, nil
}

func readHeaderObject(data []byte) ([]string, error) {
	v, _, err := codec.Decode(playReadyHeader, data)
	if err != nil {
		return nil, domain.Malformed(err, "playready header")
	}
	var out []string
	for _, item := range codec.GetList(v.(*ordereddict.Dict), "records") {
		if rec, ok := item.(*ordereddict.Dict); ok {
			out = append(out, recordHeader(rec))
		}
	}
	return out, nil
}

func recordHeader(rec *ordereddict.Dict) string {
	if t, _ := codec.GetUint(rec, "type"); t != recordTypeWRMHeader {
		return ""
	}
	s, _ := tryUTF16(codec.GetBytes(rec, "data"))
	return s
}

// tryUTF16 decodes b as UTF-16LE when it is a WRM header document.
func tryUTF16(b []byte) (string, bool) {
	if len(b) < 2 || len(b)%2 != 0 {
		return "", false
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	s := strings.TrimRight(strings.TrimPrefix(string(out), "\ufeff"), "\x00")
	if !strings.HasPrefix(strings.TrimSpace(s), "<WRMHEADER") {
		return "", false
	}
	return s, true
}

// EncodeWRMHeader builds a PSSH box carrying header as a single record.
func EncodeWRMHeader(header string) ([]byte, error) {
	utf, err := utf16le.NewEncoder().Bytes([]byte(header))
	if err != nil {
		return nil, err
	}
	record := ordereddict.NewDict().
		Set("type", uint32(recordTypeWRMHeader)).
		Set("length", uint32(len(utf))).
		Set("data", utf)
	obj := ordereddict.NewDict().
		Set("length", uint32(len(utf)+10)).
		Set("record_count", uint32(1)).
		Set("records", []any{record})
	body, err := codec.Encode(playReadyHeader, obj)
	if err != nil {
		return nil, err
	}
	return pssh.New(SystemID, body)
}
