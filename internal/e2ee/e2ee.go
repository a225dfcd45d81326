// Package e2ee encrypts outgoing payloads to the recipients' keys and
// decrypts incoming ones, sorting their signatures by validity.
package e2ee

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
	// peers whose keys carry no hash preference get RIPEMD-160
	_ "golang.org/x/crypto/ripemd160"

	"github.com/nhle/peertrust/internal/key"
)

const messageType = "PGP MESSAGE"

// ErrNoRecipients is returned by Encrypt without any usable recipient.
var ErrNoRecipients = errors.New("e2ee: no recipients")

// Result is a decrypted message.
type Result struct {
	Encrypted  bool
	Plaintext  []byte
	Signatures Signatures
}

// Encrypt encrypts plain to every recipient and signs it with signer.
// The output is ASCII armored.
func Encrypt(plain []byte, recipients []key.Key, signer key.Key, cfg *packet.Config) ([]byte, error) {
	to := make(openpgp.EntityList, 0, len(recipients))
	for _, r := range recipients {
		e, err := r.Entity()
		if err != nil {
			return nil, fmt.Errorf("reading recipient key: %w", err)
		}
		to = append(to, e)
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	var signed *openpgp.Entity
	if !signer.Empty() {
		e, err := signer.Entity()
		if err != nil {
			return nil, fmt.Errorf("reading signing key: %w", err)
		}
		if e.PrivateKey == nil {
			return nil, fmt.Errorf("signing key %s: no private key", signer.Fingerprint())
		}
		signed = e
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return nil, fmt.Errorf("starting armor: %w", err)
	}
	pw, err := openpgp.Encrypt(aw, to, signed, nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if _, err := pw.Write(plain); err != nil {
		return nil, fmt.Errorf("writing plaintext: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("finishing encryption: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("finishing armor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt decrypts an armored message with private and checks its
// signature against publics. Bad or unknown signatures do not fail the
// call; they land in the matching bucket of Result.Signatures.
func Decrypt(armored []byte, private key.Key, publics []key.Key) (*Result, error) {
	block, err := armor.Decode(bytes.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("decoding armor: %w", err)
	}
	if block.Type != messageType {
		return nil, fmt.Errorf("unexpected armor block %q", block.Type)
	}

	self, err := private.Entity()
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	ring := openpgp.EntityList{self}
	for _, p := range publics {
		if p.Empty() {
			continue
		}
		e, err := p.Entity()
		if err != nil {
			continue
		}
		ring = append(ring, e)
	}

	md, err := openpgp.ReadMessage(block.Body, ring, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}

	var obs []Observation
	if md.IsEncrypted {
		obs = append(obs, Observation{Element: ElementEncrypted})
	}
	if md.IsSigned {
		obs = append(obs, Observation{Element: ElementSignatureSeen})
		if md.SignedBy != nil {
			obs = append(obs, Observation{Element: ElementSignerKnown, Fingerprint: signerFingerprint(md.SignedBy)})
		} else {
			obs = append(obs, Observation{Element: ElementSignerUnknown, Fingerprint: fmt.Sprintf("%016X", md.SignedByKeyId)})
		}
	}

	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}

	if md.IsSigned && md.SignedBy != nil {
		if md.SignatureError == nil && md.Signature != nil {
			obs = append(obs, Observation{Element: ElementBodyVerified})
		} else {
			obs = append(obs, Observation{Element: ElementBodyFailed})
		}
	}

	encrypted, sigs := Fold(obs)
	return &Result{Encrypted: encrypted, Plaintext: plain, Signatures: sigs}, nil
}

func signerFingerprint(k *openpgp.Key) string {
	pk := k.PublicKey
	if k.Entity != nil && k.Entity.PrimaryKey != nil {
		pk = k.Entity.PrimaryKey
	}
	if pk == nil {
		return ""
	}
	return fmt.Sprintf("%X", pk.Fingerprint[:])
}
