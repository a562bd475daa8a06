// Package pssh reads and writes ISO BMFF 'pssh' boxes. Init data often
// carries several of them back to back, one per key system.
package pssh

import (
	"bytes"

	"github.com/Velocidex/ordereddict"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"cdmkit/internal/codec"
	"cdmkit/internal/domain"
)

const headerSize = 32

var (
	keyIDsV1 = codec.Struct(
		codec.F("key_id_count", codec.Uint32),
		codec.F("key_ids", codec.List(codec.Ref("key_id_count"), codec.Bytes(codec.Fixed(16)))),
	)

	// Box is a 'pssh' box, version 0 or 1.
	Box = codec.Sized(codec.Struct(
		codec.F("size", codec.Uint32),
		codec.F("type", codec.Const([]byte("pssh"))),
		codec.F("version", codec.Uint8),
		codec.F("flags", codec.Bytes(codec.Fixed(3))),
		codec.F("system_id", codec.Bytes(codec.Fixed(16))),
		codec.F("key_ids", codec.Switch(version)),
		codec.F("data_size", codec.Uint32),
		codec.F("data", codec.Bytes(codec.Ref("data_size"))),
	), codec.SizeField("size"))
)

func version(s *codec.Scope) (codec.Codec, error) {
	v, err := s.Int("version")
	if err != nil {
		return nil, err
	}
	switch v {
	case 0:
		return codec.Bytes(codec.Fixed(0)), nil
	case 1:
		return keyIDsV1, nil
	default:
		return nil, errors.Wrapf(domain.ErrUnsupported, "pssh version %d", v)
	}
}

// Find scans consecutive boxes for systemID and returns that box's
// payload. Scanning stops at the first byte run that is not a box.
func Find(data []byte, systemID uuid.UUID) ([]byte, bool) {
	for len(data) >= headerSize {
		v, n, err := codec.Decode(Box, data)
		if err != nil || n == 0 {
			return nil, false
		}
		box := v.(*ordereddict.Dict)
		if bytes.Equal(codec.GetBytes(box, "system_id"), systemID[:]) {
			return codec.GetBytes(box, "data"), true
		}
		data = data[n:]
	}
	return nil, false
}

// New builds a version 0 box around payload.
func New(systemID uuid.UUID, payload []byte) ([]byte, error) {
	return codec.Encode(Box, ordereddict.NewDict().
		Set("size", uint32(headerSize+len(payload))).
		Set("type", []byte("pssh")).
		Set("version", uint32(0)).
		Set("flags", []byte{0, 0, 0}).
		Set("system_id", systemID[:]).
		Set("key_ids", []byte{}).
		Set("data_size", uint32(len(payload))).
		Set("data", payload))
}

// NewV1 builds a version 1 box listing keyIDs ahead of payload.
func NewV1(systemID uuid.UUID, keyIDs [][]byte, payload []byte) ([]byte, error) {
	ids := make([]any, 0, len(keyIDs))
	for _, id := range keyIDs {
		ids = append(ids, id)
	}
	return codec.Encode(Box, ordereddict.NewDict().
		Set("size", uint32(headerSize+4+16*len(keyIDs)+len(payload))).
		Set("type", []byte("pssh")).
		Set("version", uint32(1)).
		Set("flags", []byte{0, 0, 0}).
		Set("system_id", systemID[:]).
		Set("key_ids", ordereddict.NewDict().
			Set("key_id_count", uint32(len(keyIDs))).
			Set("key_ids", ids)).
		Set("data_size", uint32(len(payload))).
		Set("data", payload))
}
