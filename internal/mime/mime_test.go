package mime

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outgoing() Outgoing {
	return Outgoing{
		FromAddr:  "alice@example.org",
		FromName:  "Alice",
		To:        []string{"bob@example.net"},
		Subject:   "Message from Alice",
		Text:      "Secure-Join: vc-request",
		Date:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Autocrypt: "addr=alice@example.org; keydata=AAAA",
		Protected: []Field{
			{Name: HeaderSecureJoin, Value: "vc-request"},
			{Name: HeaderSecureJoinInvitenumber, Value: "inv123"},
		},
		Gossip: []string{"addr=carol@example.com; keydata=BBBB"},
	}
}

func TestBuildParsePlain(t *testing.T) {
	raw, id, err := Build(outgoing(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "Mr."), id)
	assert.True(t, strings.HasSuffix(id, "@example.org"), id)

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, p.Encrypted())
	assert.Equal(t, "alice@example.org", p.FromAddr)
	assert.Equal(t, "Alice", p.FromName)
	assert.Equal(t, []string{"bob@example.net"}, p.Recipients())
	assert.Equal(t, id, p.MessageID)
	assert.Equal(t, "Secure-Join: vc-request", p.Text)
	assert.Equal(t, "vc-request", p.Get(HeaderSecureJoin))
	assert.Equal(t, "inv123", p.Get(HeaderSecureJoinInvitenumber))
	assert.Equal(t, chatVersion, p.Get(HeaderChatVersion))
	assert.True(t, p.Date.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Empty(t, p.Gossip(), "gossip is never sent in the clear")
	assert.Empty(t, p.Header.Values(HeaderAutocryptGossip))
}

func TestBuildParseEncrypted(t *testing.T) {
	var inner []byte
	fake := func(b []byte) ([]byte, error) {
		inner = append([]byte(nil), b...)
		return []byte("-----BEGIN PGP MESSAGE-----\r\n\r\nZm9v\r\n-----END PGP MESSAGE-----\r\n"), nil
	}

	raw, _, err := Build(outgoing(), fake)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "inv123", "protected fields stay inside")

	p, err := Parse(raw)
	require.NoError(t, err)
	require.True(t, p.Encrypted())
	assert.Contains(t, string(p.Payload), "BEGIN PGP MESSAGE")
	assert.Empty(t, p.Get(HeaderSecureJoin))
	assert.Empty(t, p.Text)

	require.NoError(t, p.SetInner(inner))
	assert.Equal(t, "vc-request", p.Get(HeaderSecureJoin))
	assert.Equal(t, "inv123", p.Get(HeaderSecureJoinInvitenumber))
	assert.Equal(t, "Secure-Join: vc-request", p.Text)
	assert.Equal(t, []string{"addr=carol@example.com; keydata=BBBB"}, p.Gossip())
	assert.Equal(t, "alice@example.org", p.FromAddr)
}

func TestParseEncryptedIgnoresOuterHandshakeFields(t *testing.T) {
	o := outgoing()
	o.Protected = nil
	raw, _, err := Build(o, func(b []byte) ([]byte, error) {
		return []byte("-----BEGIN PGP MESSAGE-----\r\n\r\nZm9v\r\n-----END PGP MESSAGE-----\r\n"), nil
	})
	require.NoError(t, err)
	// A relay adds handshake fields to the unprotected header.
	raw = append([]byte("Secure-Join: vc-request-with-auth\r\nSecure-Join-Auth: forged\r\n"), raw...)

	p, err := Parse(raw)
	require.NoError(t, err)
	require.True(t, p.Encrypted())
	assert.Equal(t, "forged", p.Header.Get(HeaderSecureJoinAuth))
	assert.Empty(t, p.Get(HeaderSecureJoin))

	inner, err := buildInner(o)
	require.NoError(t, err)
	require.NoError(t, p.SetInner(inner))
	assert.Empty(t, p.Get(HeaderSecureJoin))
	assert.Empty(t, p.Get("secure-join-auth"))
	assert.Equal(t, chatVersion, p.Get(HeaderChatVersion))
	assert.Equal(t, "alice@example.org", p.FromAddr)
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := "From: bob@example.net\r\n" +
		"To: alice@example.org\r\n" +
		"Content-Type: multipart/alternative; boundary=XX\r\n" +
		"\r\n" +
		"--XX\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"hi there\r\n" +
		"--XX\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>hi there</p>\r\n" +
		"--XX--\r\n"

	p, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "hi there", p.Text)
	assert.Equal(t, "bob@example.net", p.FromAddr)
}
