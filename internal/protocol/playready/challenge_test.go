package playready_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/crypto"
	"cdmkit/internal/protocol/playready"
)

func between(t *testing.T, s, start, end string) string {
	t.Helper()
	i := strings.Index(s, start)
	require.GreaterOrEqual(t, i, 0, "missing %s", start)
	j := strings.Index(s[i:], end)
	require.GreaterOrEqual(t, j, 0, "missing %s", end)
	return s[i : i+j+len(end)]
}

func TestBuildChallenge_ServerCanOpenAndVerify(t *testing.T) {
	f := newFixture(t)
	server, err := crypto.GenerateEccKey()
	require.NoError(t, err)
	chain, err := f.device.Chain.Dump()
	require.NoError(t, err)

	challenge, err := playready.BuildChallenge(playready.ChallengeParams{
		WRMHeader:  testWRMHeader,
		Chain:      chain,
		SigningKey: f.device.SigningKey,
		ServerKey:  server.Point(),
	})
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(challenge))

	la := between(t, challenge, "<LA ", "</LA>")
	assert.Contains(t, la, "<Version>5</Version>")
	assert.Contains(t, la, "<CLIENTVERSION>"+playready.DefaultClientVersion+"</CLIENTVERSION>")
	assert.Contains(t, la, "<ContentHeader>"+testWRMHeader+"</ContentHeader>")

	// digest and signature
	signedInfo := between(t, challenge, "<SignedInfo ", "</SignedInfo>")
	digest := doc.FindElement("//DigestValue").Text()
	assert.Equal(t, base64.StdEncoding.EncodeToString(crypto.SHA256([]byte(la))), digest)

	sig, err := base64.StdEncoding.DecodeString(doc.FindElement("//SignatureValue").Text())
	require.NoError(t, err)
	pub, err := base64.StdEncoding.DecodeString(doc.FindElement("//PublicKey").Text())
	require.NoError(t, err)
	assert.Equal(t, f.device.SigningKey.PublicBytes(), pub)
	assert.True(t, crypto.VerifyECDSA(pub, []byte(signedInfo), sig))

	// the server recovers the one-time AES key and reads the chain
	values := doc.FindElements("//CipherValue")
	require.Len(t, values, 2)
	keyCipher, err := base64.StdEncoding.DecodeString(values[0].Text())
	require.NoError(t, err)
	require.Len(t, keyCipher, 128)
	x, err := crypto.DecryptECC256(server, keyCipher)
	require.NoError(t, err)

	dataCipher, err := base64.StdEncoding.DecodeString(values[1].Text())
	require.NoError(t, err)
	assert.Equal(t, x[:16], dataCipher[:16])
	plain, err := crypto.DecryptCBC(x[16:], x[:16], dataCipher[16:])
	require.NoError(t, err)
	assert.Contains(t, string(plain), "<CertificateChain>"+base64.StdEncoding.EncodeToString(chain)+"</CertificateChain>")
}

func TestBuildChallenge_FreshKeyPerChallenge(t *testing.T) {
	f := newFixture(t)
	params := playready.ChallengeParams{
		WRMHeader:  testWRMHeader,
		SigningKey: f.device.SigningKey,
		ServerKey:  playready.WMRMServerKey,
	}
	a, err := playready.BuildChallenge(params)
	require.NoError(t, err)
	b, err := playready.BuildChallenge(params)
	require.NoError(t, err)
	assert.NotEqual(t,
		between(t, a, "<CipherValue>", "</CipherValue>"),
		between(t, b, "<CipherValue>", "</CipherValue>"))
}
