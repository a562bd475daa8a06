package widevine

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/pssh"
)

// SystemID identifies Widevine PSSH boxes.
var SystemID = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")

// Pssh is parsed Widevine init data. Raw is the exact PsshData payload
// sent in license requests.
type Pssh struct {
	Raw  []byte
	Data *PsshData
}

// ParsePssh accepts base64 text or raw bytes holding one or more PSSH
// boxes, or a bare Widevine PsshData payload. Boxes of other systems are
// skipped.
func ParsePssh(initData []byte) (*Pssh, error) {
	data := initData
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(initData))); err == nil && len(decoded) > 0 {
		data = decoded
	}
	if payload, ok := pssh.Find(data, SystemID); ok {
		data = payload
	}
	parsed, err := unmarshalPsshData(data)
	if err != nil {
		return nil, domain.Malformed(err, "widevine pssh")
	}
	return &Pssh{Raw: append([]byte(nil), data...), Data: parsed}, nil
}

// Box wraps the payload in a version 0 PSSH box.
func (p *Pssh) Box() ([]byte, error) {
	return NewBox(p.Raw)
}

// NewBox builds a version 0 PSSH box around a Widevine payload.
func NewBox(payload []byte) ([]byte, error) {
	return pssh.New(SystemID, payload)
}
