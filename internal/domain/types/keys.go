package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Key is one recovered content key.
type Key struct {
	ID    []byte
	Value []byte
	// Type is the container type name for Widevine keys ("CONTENT",
	// "SIGNING", ...) and the XMR key type for PlayReady keys.
	Type string
	// CipherType is only set for PlayReady keys.
	CipherType uint16

	// Widevine-only metadata.
	SecurityLevel string
	TrackLabel    string
	Permissions   []string
}

// String renders the key as "kid:key" in hex.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", hex.EncodeToString(k.ID), hex.EncodeToString(k.Value))
}

// KeyIDHex returns the key id in lowercase hex.
func (k Key) KeyIDHex() string { return hex.EncodeToString(k.ID) }

type keyJSON struct {
	KeyID         string   `json:"keyId"`
	Key           string   `json:"key"`
	Type          string   `json:"type,omitempty"`
	CipherType    uint16   `json:"cipherType,omitempty"`
	SecurityLevel string   `json:"securityLevel,omitempty"`
	TrackLabel    string   `json:"trackLabel,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
}

// MarshalJSON encodes ids and values as hex.
func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(keyJSON{
		KeyID:         hex.EncodeToString(k.ID),
		Key:           hex.EncodeToString(k.Value),
		Type:          k.Type,
		CipherType:    k.CipherType,
		SecurityLevel: k.SecurityLevel,
		TrackLabel:    k.TrackLabel,
		Permissions:   k.Permissions,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (k *Key) UnmarshalJSON(b []byte) error {
	var raw keyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	id, err := hex.DecodeString(raw.KeyID)
	if err != nil {
		return errors.Wrap(err, "keyId")
	}
	value, err := hex.DecodeString(raw.Key)
	if err != nil {
		return errors.Wrap(err, "key")
	}
	*k = Key{
		ID:            id,
		Value:         value,
		Type:          raw.Type,
		CipherType:    raw.CipherType,
		SecurityLevel: raw.SecurityLevel,
		TrackLabel:    raw.TrackLabel,
		Permissions:   raw.Permissions,
	}
	return nil
}
