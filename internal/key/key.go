// Package key wraps OpenPGP key blobs as immutable values with a cached
// fingerprint.
package key

import (
	"bytes"
	"crypto"
	_ "crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

// Kind tells whether a key blob holds public or secret material.
type Kind int

const (
	Public Kind = iota
	Private
)

func (k Kind) String() string {
	if k == Private {
		return "private"
	}
	return "public"
}

// ErrEmpty is returned when an operation needs key material but the key
// holds none.
var ErrEmpty = errors.New("key: empty key")

// Key is a binary OpenPGP transferable key. The zero value is an empty key.
type Key struct {
	data        []byte
	kind        Kind
	fingerprint string
}

// New copies data into a new key and computes its fingerprint. A blob that
// cannot be parsed still yields a key, but with an empty fingerprint.
func New(data []byte, kind Kind) Key {
	if len(data) == 0 {
		return Key{kind: kind}
	}
	k := Key{data: bytes.Clone(data), kind: kind}
	k.fingerprint = computeFingerprint(k.data)
	return k
}

// FromBase64 decodes base64 key data. Characters outside the base64
// alphabet are skipped so folded header values decode as well.
func FromBase64(s string, kind Kind) (Key, error) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '+', r == '/':
			b.WriteRune(r)
		}
	}
	clean := b.String()

	data, err := base64.RawStdEncoding.DecodeString(clean)
	if err != nil {
		return Key{}, fmt.Errorf("decoding base64 key: %w", err)
	}
	if len(data) == 0 {
		return Key{}, ErrEmpty
	}
	return New(data, kind), nil
}

// Bytes returns a copy of the raw key blob.
func (k Key) Bytes() []byte {
	return bytes.Clone(k.data)
}

// Len returns the blob size in bytes.
func (k Key) Len() int {
	return len(k.data)
}

// Empty reports whether the key holds no material.
func (k Key) Empty() bool {
	return len(k.data) == 0
}

// Kind returns whether the key is public or private.
func (k Key) Kind() Kind {
	return k.kind
}

// Equals reports whether both keys are non-empty, of the same kind and
// byte-for-byte identical.
func (k Key) Equals(o Key) bool {
	if k.Empty() || o.Empty() || k.kind != o.kind {
		return false
	}
	return bytes.Equal(k.data, o.data)
}

// Fingerprint returns the 40 character uppercase hex fingerprint of the
// primary key, or "" if the blob could not be parsed.
func (k Key) Fingerprint() string {
	return k.fingerprint
}

// FormattedFingerprint returns the fingerprint grouped for display.
func (k Key) FormattedFingerprint() string {
	return FormatFingerprint(k.fingerprint)
}

// RenderBase64 encodes the key as base64, inserting sep after every
// lineLen characters. A lineLen of zero disables wrapping.
func (k Key) RenderBase64(lineLen int, sep string) string {
	enc := base64.StdEncoding.EncodeToString(k.data)
	if lineLen <= 0 || len(enc) <= lineLen {
		return enc
	}

	var b strings.Builder
	for i := 0; i < len(enc); i += lineLen {
		if i > 0 {
			b.WriteString(sep)
		}
		end := min(i+lineLen, len(enc))
		b.WriteString(enc[i:end])
	}
	return b.String()
}

// Entity parses the blob into an OpenPGP entity.
func (k Key) Entity() (*openpgp.Entity, error) {
	if k.Empty() {
		return nil, ErrEmpty
	}
	list, err := openpgp.ReadKeyRing(bytes.NewReader(k.data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s key: %w", k.kind, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("parsing %s key: no entity", k.kind)
	}
	return list[0], nil
}

func (k Key) String() string {
	if k.Empty() {
		return "<empty key>"
	}
	return fmt.Sprintf("%s key %s (%d bytes)", k.kind, k.fingerprint, len(k.data))
}

func computeFingerprint(data []byte) string {
	list, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil || len(list) == 0 || list[0].PrimaryKey == nil {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(list[0].PrimaryKey.Fingerprint[:]))
}

// Generate creates a new keypair for addr. A nil cfg uses the library
// defaults. The key always advertises SHA-256 and AES-128 preferences.
func Generate(addr string, cfg *packet.Config) (public, private Key, err error) {
	cfg = withPreferences(cfg)
	entity, err := openpgp.NewEntity("", "", addr, cfg)
	if err != nil {
		return Key{}, Key{}, fmt.Errorf("generating key for %s: %w", addr, err)
	}

	// SerializePrivate signs the identities and subkeys; it has to run
	// before the public part is written.
	var priv bytes.Buffer
	if err := entity.SerializePrivate(&priv, cfg); err != nil {
		return Key{}, Key{}, fmt.Errorf("serializing private key: %w", err)
	}

	var pub bytes.Buffer
	if err := entity.Serialize(&pub); err != nil {
		return Key{}, Key{}, fmt.Errorf("serializing public key: %w", err)
	}

	return New(pub.Bytes(), Public), New(priv.Bytes(), Private), nil
}

// withPreferences returns a copy of cfg with a default hash and cipher.
// Without them the generated self-signature carries no preferences and
// encrypting to the key falls back to RIPEMD-160.
func withPreferences(cfg *packet.Config) *packet.Config {
	c := packet.Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultHash == 0 {
		c.DefaultHash = crypto.SHA256
	}
	if c.DefaultCipher == 0 {
		c.DefaultCipher = packet.CipherAES128
	}
	return &c
}

// TestConfig returns a packet config with a small RSA size suitable for
// tests.
func TestConfig() *packet.Config {
	return &packet.Config{RSABits: 1024}
}

// NormalizeFingerprint uppercases in and drops everything that is not a
// hex digit, so spaced or lowercase input compares equal.
func NormalizeFingerprint(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	for _, r := range strings.ToUpper(in) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatFingerprint puts a space after every 4 characters and a newline
// after every 20.
func FormatFingerprint(fpr string) string {
	var b strings.Builder
	for i := 0; i < len(fpr); i++ {
		b.WriteByte(fpr[i])
		if i == len(fpr)-1 {
			break
		}
		switch {
		case i%20 == 19:
			b.WriteByte('\n')
		case i%4 == 3:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// WriteArmored writes the key as an ASCII armored block.
func (k Key) WriteArmored(w io.Writer) error {
	if k.Empty() {
		return ErrEmpty
	}
	blockType := openpgp.PublicKeyType
	if k.kind == Private {
		blockType = openpgp.PrivateKeyType
	}
	aw, err := armor.Encode(w, blockType, nil)
	if err != nil {
		return fmt.Errorf("opening armor writer: %w", err)
	}
	if _, err := aw.Write(k.data); err != nil {
		aw.Close()
		return fmt.Errorf("writing armored key: %w", err)
	}
	return aw.Close()
}
