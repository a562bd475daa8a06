package widevine

import (
	"encoding/binary"

	"cdmkit/internal/crypto"
	"cdmkit/internal/util/memzero"
)

const (
	encryptionLabel     = "ENCRYPTION"
	authenticationLabel = "AUTHENTICATION"
)

// requestContext is the key derivation input recorded for a request.
type requestContext struct {
	Enc  []byte
	Auth []byte
}

// DeriveContext builds the encryption and authentication derivation inputs
// for a serialised license request.
func DeriveContext(msg []byte) (enc, auth []byte) {
	return derivationInput(encryptionLabel, msg, 128), derivationInput(authenticationLabel, msg, 512)
}

func derivationInput(label string, msg []byte, bits uint32) []byte {
	out := make([]byte, 0, len(label)+1+len(msg)+4)
	out = append(out, label...)
	out = append(out, 0)
	out = append(out, msg...)
	return binary.BigEndian.AppendUint32(out, bits)
}

// DerivedKeys are the session sub-keys.
type DerivedKeys struct {
	Enc       []byte
	MacServer []byte
	MacClient []byte
}

// Wipe zeroes every sub-key.
func (k *DerivedKeys) Wipe() {
	memzero.Zero(k.Enc, k.MacServer, k.MacClient)
}

// DeriveKeys runs the AES-CMAC counter-mode KDF keyed with the session key.
func DeriveKeys(enc, auth, sessionKey []byte) (*DerivedKeys, error) {
	block := func(counter byte, input []byte) ([]byte, error) {
		return crypto.CMAC(sessionKey, []byte{counter}, input)
	}
	var parts [5][]byte
	var err error
	if parts[0], err = block(1, enc); err != nil {
		return nil, err
	}
	for i := byte(1); i <= 4; i++ {
		if parts[i], err = block(i, auth); err != nil {
			return nil, err
		}
	}
	return &DerivedKeys{
		Enc:       parts[0],
		MacServer: append(parts[1], parts[2]...),
		MacClient: append(parts[3], parts[4]...),
	}, nil
}
