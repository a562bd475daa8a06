package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/domain"
)

func TestCertificateError_MatchesBothKinds(t *testing.T) {
	err := domain.Tag(domain.ErrInvalidCertificateChain, &domain.CertificateError{Index: 2, Reason: "bad signature"}, "")
	assert.Equal(t, "invalid certificate chain: invalid certificate 2: bad signature", err.Error())

	assert.ErrorIs(t, err, domain.ErrInvalidCertificateChain)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificate)

	var ce *domain.CertificateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Index)
}

func TestMalformed_KeepsCause(t *testing.T) {
	cause := errors.New("short read")
	err := domain.Malformed(cause, "certificate %d", 1)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "malformed input: certificate 1: short read", err.Error())
	assert.NoError(t, domain.Malformed(nil, "x"))
}

func TestKey_JSONHex(t *testing.T) {
	k := domain.Key{ID: []byte{0xcc, 0xbf}, Value: []byte{0x9c, 0xc0}, Type: "CONTENT"}
	assert.Equal(t, "ccbf:9cc0", k.String())

	b, err := json.Marshal(k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keyId":"ccbf","key":"9cc0","type":"CONTENT"}`, string(b))

	var back domain.Key
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, k, back)

	assert.Error(t, json.Unmarshal([]byte(`{"keyId":"zz","key":""}`), &back))
}

func TestParseSessionType(t *testing.T) {
	st, ok := domain.ParseSessionType("")
	assert.True(t, ok)
	assert.Equal(t, domain.SessionTemporary, st)

	st, ok = domain.ParseSessionType("persistent-license")
	assert.True(t, ok)
	assert.Equal(t, domain.SessionPersistent, st)

	_, ok = domain.ParseSessionType("forever")
	assert.False(t, ok)
}

func TestKind_RoundTrip(t *testing.T) {
	chainErr := domain.Tag(domain.ErrInvalidCertificateChain, &domain.CertificateError{Index: 1, Reason: "x"}, "")
	assert.Equal(t, "invalid-certificate-chain", domain.Kind(chainErr))
	assert.Equal(t, "invalid-certificate", domain.Kind(&domain.CertificateError{}))
	assert.Equal(t, "malformed-input", domain.Kind(domain.Malformed(errors.New("eof"), "box")))
	assert.Equal(t, "", domain.Kind(errors.New("plain")))

	for _, name := range []string{"invalid-signature", "invalid-license", "invalid-session", "unsupported"} {
		err := domain.KindError(name)
		require.Error(t, err)
		assert.Equal(t, name, domain.Kind(err))
	}
	assert.NoError(t, domain.KindError("bogus"))
}
