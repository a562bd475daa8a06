package playready_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/playready"
)

func chainLengthInvariant(t *testing.T, chain *playready.CertificateChain) {
	t.Helper()
	total := 20
	n := 0
	for i := 0; ; i++ {
		cert, err := chain.Get(i)
		if err != nil {
			break
		}
		raw, err := cert.Dump()
		require.NoError(t, err)
		total += len(raw)
		n++
	}
	assert.Equal(t, n, chain.Count())
	assert.Equal(t, total, chain.TotalLength())

	raw, err := chain.Dump()
	require.NoError(t, err)
	assert.Len(t, raw, total)
}

func TestChain_ProvisionedVerifies(t *testing.T) {
	f := newFixture(t)
	chain := f.device.Chain

	require.NoError(t, chain.Verify())
	assert.Equal(t, 2, chain.Count())
	assert.Equal(t, uint32(2000), chain.SecurityLevel())
	assert.Equal(t, "cdmkit Test 1", chain.Name())

	leaf, err := chain.Get(0)
	require.NoError(t, err)
	assert.Equal(t, playready.CertTypeDevice, leaf.CertType())
	assert.Equal(t, f.device.SigningKey.PublicBytes(), leaf.KeyWithUsage(playready.KeyUsageSign))
	assert.Equal(t, f.device.EncryptionKey.PublicBytes(), leaf.KeyWithUsage(playready.KeyUsageEncryptKey))
	chainLengthInvariant(t, chain)
}

func TestChain_DumpParseRoundTrip(t *testing.T) {
	f := newFixture(t)
	raw, err := f.device.Chain.Dump()
	require.NoError(t, err)

	back, err := playready.ParseCertificateChain(raw, playready.WithRootKey(f.root.PublicBytes()))
	require.NoError(t, err)
	require.NoError(t, back.Verify())

	again, err := back.Dump()
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestChain_WrongRootRejected(t *testing.T) {
	f := newFixture(t)
	raw, err := f.device.Chain.Dump()
	require.NoError(t, err)

	back, err := playready.ParseCertificateChain(raw)
	require.NoError(t, err)

	err = back.Verify()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificateChain)

	var ce *domain.CertificateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Index)
}

func TestChain_FlippedSignatureByteRejected(t *testing.T) {
	f := newFixture(t)
	raw, err := f.device.Chain.Dump()
	require.NoError(t, err)

	var offsets []int
	offset := 20
	for i := 0; i < f.device.Chain.Count(); i++ {
		cert, err := f.device.Chain.Get(i)
		require.NoError(t, err)
		certRaw, err := cert.Dump()
		require.NoError(t, err)
		// signature bytes start 12 bytes into the trailing 144-byte attribute
		offsets = append(offsets, offset+len(certRaw)-144+12)
		offset += len(certRaw)
	}

	for idx, off := range offsets {
		for _, delta := range []int{0, 31, 63} {
			tampered := append([]byte(nil), raw...)
			tampered[off+delta] ^= 0x01

			chain, err := playready.ParseCertificateChain(tampered, playready.WithRootKey(f.root.PublicBytes()))
			require.NoError(t, err)

			err = chain.Verify()
			require.Error(t, err, "certificate %d byte %d", idx, delta)
			assert.ErrorIs(t, err, domain.ErrInvalidCertificateChain)
			assert.ErrorIs(t, err, domain.ErrInvalidCertificate)
		}
	}
}

func TestChain_EditsKeepHeaderConsistent(t *testing.T) {
	f := newFixture(t)
	chain := f.device.Chain
	leaf, err := chain.Get(0)
	require.NoError(t, err)
	issuer, err := chain.Get(1)
	require.NoError(t, err)

	require.NoError(t, chain.Append(leaf))
	chainLengthInvariant(t, chain)
	assert.Equal(t, 3, chain.Count())

	require.NoError(t, chain.Prepend(issuer))
	chainLengthInvariant(t, chain)
	assert.Equal(t, 4, chain.Count())

	require.NoError(t, chain.Remove(0))
	require.NoError(t, chain.Remove(2))
	chainLengthInvariant(t, chain)
	require.NoError(t, chain.Verify())

	assert.Error(t, chain.Remove(5))
	require.NoError(t, chain.Remove(0))
	require.NoError(t, chain.Remove(0))
	chainLengthInvariant(t, chain)

	err = chain.Remove(0)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificateChain)
	assert.ErrorIs(t, chain.Verify(), domain.ErrInvalidCertificateChain)
}

func TestChain_TruncatedInputIsMalformed(t *testing.T) {
	f := newFixture(t)
	raw, err := f.device.Chain.Dump()
	require.NoError(t, err)

	for _, n := range []int{0, 4, 19, 20, len(raw) - 1} {
		_, err := playready.ParseCertificateChain(raw[:n])
		assert.ErrorIs(t, err, domain.ErrMalformedInput, "len %d", n)
	}

	bad := append([]byte("CHAX"), raw[4:]...)
	_, err = playready.ParseCertificateChain(bad)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestChain_TotalLengthMustCoverCertificates(t *testing.T) {
	f := newFixture(t)
	raw, err := f.device.Chain.Dump()
	require.NoError(t, err)

	// eight bytes of padding inside the declared length
	padded := append(append([]byte(nil), raw...), make([]byte, 8)...)
	binary.BigEndian.PutUint32(padded[8:12], uint32(len(padded)))
	_, err = playready.ParseCertificateChain(padded, playready.WithRootKey(f.root.PublicBytes()))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	chain, err := playready.ParseCertificateChain(raw, playready.WithRootKey(f.root.PublicBytes()))
	require.NoError(t, err)
	assert.Equal(t, len(raw), chain.TotalLength())
	chainLengthInvariant(t, chain)
}
