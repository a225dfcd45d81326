package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Parsed is a parsed message. For encrypted messages Text and Protected
// stay empty until the payload is decrypted and passed to SetInner.
type Parsed struct {
	Header    mail.Header
	FromAddr  string
	FromName  string
	To        []string
	Cc        []string
	Date      time.Time
	MessageID string
	Text      string
	// Payload is the armored PGP message of a multipart/encrypted body.
	Payload []byte
	// Protected is the header of the decrypted inner part.
	Protected mail.Header
	inner     bool
}

// Encrypted reports whether the message body is a PGP/MIME payload.
func (p *Parsed) Encrypted() bool {
	return len(p.Payload) > 0
}

// Get returns the value of a header field. Fields of the decrypted part
// take precedence over the outer header. Handshake fields of an encrypted
// message are read from the decrypted part only.
func (p *Parsed) Get(name string) string {
	if p.inner {
		if v := p.Protected.Get(name); v != "" {
			return v
		}
	}
	if (p.inner || p.Encrypted()) && protectedOnly(name) {
		return ""
	}
	return p.Header.Get(name)
}

func protectedOnly(name string) bool {
	return len(name) >= len(HeaderSecureJoin) && strings.EqualFold(name[:len(HeaderSecureJoin)], HeaderSecureJoin)
}

// Recipients returns the To and Cc addresses.
func (p *Parsed) Recipients() []string {
	return append(append([]string{}, p.To...), p.Cc...)
}

// Parse reads a raw RFC 5322 message.
func Parse(raw []byte) (*Parsed, error) {
	e, err := readEntity(raw)
	if err != nil {
		return nil, err
	}

	h := mail.Header{Header: e.Header}
	p := &Parsed{Header: h}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.FromAddr = from[0].Address
		p.FromName = from[0].Name
	}
	p.To = addresses(h, "To")
	p.Cc = addresses(h, "Cc")
	if d, err := h.Date(); err == nil {
		p.Date = d
	}
	if id, err := h.MessageID(); err == nil {
		p.MessageID = id
	}

	mediaType, params, _ := e.Header.ContentType()
	switch {
	case mediaType == "multipart/encrypted" && params["protocol"] == "application/pgp-encrypted":
		payload, err := encryptedPayload(e)
		if err != nil {
			return nil, err
		}
		p.Payload = payload
	default:
		text, err := firstText(e)
		if err != nil {
			return nil, err
		}
		p.Text = text
	}
	return p, nil
}

// SetInner parses the decrypted inner part and takes its text and
// protected header.
func (p *Parsed) SetInner(plain []byte) error {
	e, err := readEntity(plain)
	if err != nil {
		return fmt.Errorf("parsing decrypted part: %w", err)
	}
	text, err := firstText(e)
	if err != nil {
		return fmt.Errorf("parsing decrypted part: %w", err)
	}
	p.Protected = mail.Header{Header: e.Header}
	p.Text = text
	p.inner = true
	return nil
}

// Gossip returns the Autocrypt-Gossip values of the decrypted part.
// Outer gossip headers are never used.
func (p *Parsed) Gossip() []string {
	if !p.inner {
		return nil
	}
	return p.Protected.Values(HeaderAutocryptGossip)
}

func readEntity(raw []byte) (*message.Entity, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	if e == nil {
		return nil, errors.New("reading message: no entity")
	}
	return e, nil
}

func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func encryptedPayload(e *message.Entity) ([]byte, error) {
	mr := e.MultipartReader()
	if mr == nil {
		return nil, errors.New("encrypted message without parts")
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("reading encrypted part: %w", err)
		}
		mediaType, _, _ := part.Header.ContentType()
		if mediaType != "application/octet-stream" {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("reading encrypted payload: %w", err)
		}
		return body, nil
	}
	return nil, errors.New("encrypted message without payload")
}

func firstText(e *message.Entity) (string, error) {
	mr := e.MultipartReader()
	if mr == nil {
		mediaType, _, _ := e.Header.ContentType()
		if mediaType != "" && !strings.HasPrefix(mediaType, "text/") {
			return "", nil
		}
		body, err := io.ReadAll(e.Body)
		if err != nil {
			return "", fmt.Errorf("reading body: %w", err)
		}
		return strings.TrimRight(string(body), "\r\n"), nil
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("reading part: %w", err)
		}
		text, err := firstText(part)
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
}
