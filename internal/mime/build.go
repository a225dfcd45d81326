// Package mime renders outgoing messages and parses incoming ones.
package mime

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Header names of the chat and handshake extensions.
const (
	HeaderChatVersion          = "Chat-Version"
	HeaderChatGroupID          = "Chat-Group-ID"
	HeaderChatGroupName        = "Chat-Group-Name"
	HeaderChatGroupMemberAdded = "Chat-Group-Member-Added"
	HeaderChatVerified         = "Chat-Verified"

	HeaderSecureJoin             = "Secure-Join"
	HeaderSecureJoinInvitenumber = "Secure-Join-Invitenumber"
	HeaderSecureJoinAuth         = "Secure-Join-Auth"
	HeaderSecureJoinFingerprint  = "Secure-Join-Fingerprint"
	HeaderSecureJoinGroup        = "Secure-Join-Group"

	HeaderAutocrypt       = "Autocrypt"
	HeaderAutocryptGossip = "Autocrypt-Gossip"
)

const chatVersion = "1.0"

// Field is a single header field.
type Field struct {
	Name  string
	Value string
}

// Outgoing describes a message to render.
type Outgoing struct {
	FromAddr string
	FromName string
	To       []string
	Subject  string
	Text     string
	Date     time.Time
	// MessageID is generated when empty.
	MessageID string
	// Autocrypt is the rendered value of our own Autocrypt header.
	Autocrypt string
	// Protected fields go into the encrypted part when the message is
	// encrypted and into the outer header otherwise.
	Protected []Field
	// Gossip values are only ever written into the encrypted part.
	Gossip []string
}

// Encrypter turns the rendered inner part into an armored PGP message.
type Encrypter func(inner []byte) ([]byte, error)

// NewMessageID returns a fresh id for the given sender domain.
func NewMessageID(fromAddr string) string {
	domain := "localhost"
	if _, d, ok := strings.Cut(fromAddr, "@"); ok && d != "" {
		domain = d
	}
	return "Mr." + uuid.NewString() + "@" + domain
}

// Build renders o. With a nil encrypt the message is sent in the clear;
// otherwise the text and protected fields are encrypted into a
// multipart/encrypted body.
func Build(o Outgoing, encrypt Encrypter) (raw []byte, messageID string, err error) {
	if o.MessageID == "" {
		o.MessageID = NewMessageID(o.FromAddr)
	}
	if o.Date.IsZero() {
		o.Date = time.Now()
	}

	var h mail.Header
	h.SetDate(o.Date)
	h.SetAddressList("From", []*mail.Address{{Name: o.FromName, Address: o.FromAddr}})
	to := make([]*mail.Address, 0, len(o.To))
	for _, addr := range o.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetMessageID(o.MessageID)
	h.SetSubject(o.Subject)
	h.Set("MIME-Version", "1.0")
	h.Set(HeaderChatVersion, chatVersion)
	if o.Autocrypt != "" {
		h.Set(HeaderAutocrypt, o.Autocrypt)
	}

	var buf bytes.Buffer
	if encrypt == nil {
		for _, f := range o.Protected {
			h.Add(f.Name, f.Value)
		}
		if err := writeText(&buf, h, o.Text); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), o.MessageID, nil
	}

	inner, err := buildInner(o)
	if err != nil {
		return nil, "", err
	}
	armored, err := encrypt(inner)
	if err != nil {
		return nil, "", fmt.Errorf("encrypting message: %w", err)
	}
	if err := writeEncrypted(&buf, h, armored); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), o.MessageID, nil
}

func buildInner(o Outgoing) ([]byte, error) {
	var h mail.Header
	for _, f := range o.Protected {
		h.Add(f.Name, f.Value)
	}
	for _, g := range o.Gossip {
		h.Add(HeaderAutocryptGossip, g)
	}
	var buf bytes.Buffer
	if err := writeText(&buf, h, o.Text); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeText(w io.Writer, h mail.Header, text string) error {
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	tw, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("creating text writer: %w", err)
	}
	if _, err := io.WriteString(tw, text); err != nil {
		return fmt.Errorf("writing text: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing text writer: %w", err)
	}
	return nil
}

func writeEncrypted(w io.Writer, h mail.Header, armored []byte) error {
	h.SetContentType("multipart/encrypted", map[string]string{
		"protocol": "application/pgp-encrypted",
	})
	mw, err := message.CreateWriter(w, h.Header)
	if err != nil {
		return fmt.Errorf("creating multipart writer: %w", err)
	}

	var control message.Header
	control.SetContentType("application/pgp-encrypted", nil)
	control.Set("Content-Description", "PGP/MIME version identification")
	if err := writePart(mw, control, []byte("Version: 1\r\n")); err != nil {
		return err
	}

	var payload message.Header
	payload.SetContentType("application/octet-stream", map[string]string{"name": "encrypted.asc"})
	payload.Set("Content-Description", "OpenPGP encrypted message")
	payload.Set("Content-Disposition", "inline; filename=\"encrypted.asc\"")
	if err := writePart(mw, payload, armored); err != nil {
		return err
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}
	return nil
}

func writePart(mw *message.Writer, h message.Header, body []byte) error {
	pw, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating part: %w", err)
	}
	if _, err := pw.Write(body); err != nil {
		return fmt.Errorf("writing part: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("closing part: %w", err)
	}
	return nil
}
