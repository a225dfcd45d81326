// Package aheader parses and renders Autocrypt and Autocrypt-Gossip
// header values.
package aheader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/model"
)

// Header field names.
const (
	FieldAutocrypt = "Autocrypt"
	FieldGossip    = "Autocrypt-Gossip"
)

// PreferEncrypt is a peer's declared encryption preference. The numeric
// values are stored in the database and must not change.
type PreferEncrypt int

const (
	NoPreference PreferEncrypt = 0
	Mutual       PreferEncrypt = 1
	// Reset is never sent; it is set locally when a peer stops sending
	// Autocrypt headers.
	Reset PreferEncrypt = 20
)

func (p PreferEncrypt) String() string {
	switch p {
	case Mutual:
		return "mutual"
	case Reset:
		return "reset"
	default:
		return "nopreference"
	}
}

// ErrInvalid is returned for header values that must be ignored.
var ErrInvalid = errors.New("invalid autocrypt header")

// Header is a parsed Autocrypt header.
type Header struct {
	Addr          string
	PreferEncrypt PreferEncrypt
	PublicKey     key.Key
}

const headerWS = "\t\r\n "

// Parse parses an Autocrypt header value. Attribute names starting with
// "_" are ignored; any other unknown attribute makes the whole header
// invalid. Both addr and keydata must be present.
func Parse(value string) (*Header, error) {
	h := &Header{PreferEncrypt: NoPreference}

	for _, attr := range strings.Split(value, ";") {
		attr = strings.Trim(attr, headerWS)
		if attr == "" {
			continue
		}

		name, val, hasValue := strings.Cut(attr, "=")
		name = strings.Trim(name, headerWS)
		val = strings.Trim(strings.TrimLeft(val, headerWS+"="), headerWS)
		if name == "" {
			continue
		}

		if err := h.addAttribute(name, val, hasValue); err != nil {
			return nil, err
		}
	}

	if h.Addr == "" || h.PublicKey.Empty() {
		return nil, fmt.Errorf("%w: addr and keydata required", ErrInvalid)
	}
	return h, nil
}

func (h *Header) addAttribute(name, value string, hasValue bool) error {
	switch strings.ToLower(name) {
	case "addr":
		if !hasValue || !model.MayBeValidAddr(value) || h.Addr != "" {
			return fmt.Errorf("%w: bad addr %q", ErrInvalid, value)
		}
		h.Addr = model.NormalizeAddr(value)
	case "prefer-encrypt":
		// Any value other than mutual reads as no preference.
		if hasValue && strings.EqualFold(value, "mutual") {
			h.PreferEncrypt = Mutual
		}
	case "keydata":
		if !hasValue || !h.PublicKey.Empty() {
			return fmt.Errorf("%w: bad keydata", ErrInvalid)
		}
		k, err := key.FromBase64(value, key.Public)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		h.PublicKey = k
	default:
		if !strings.HasPrefix(name, "_") {
			return fmt.Errorf("%w: unknown attribute %q", ErrInvalid, name)
		}
	}
	return nil
}

// Render formats the header for sending. Key data is broken with a space
// every 78 characters so the mail writer can fold the line.
func (h *Header) Render() (string, error) {
	if h.Addr == "" || h.PublicKey.Empty() || h.PublicKey.Kind() != key.Public {
		return "", fmt.Errorf("%w: cannot render without addr and public key", ErrInvalid)
	}

	var b strings.Builder
	b.WriteString("addr=")
	b.WriteString(h.Addr)
	b.WriteString("; ")
	if h.PreferEncrypt == Mutual {
		b.WriteString("prefer-encrypt=mutual; ")
	}
	b.WriteString("keydata= ")
	b.WriteString(h.PublicKey.RenderBase64(78, " "))
	return b.String(), nil
}

// FromMailHeader returns the Autocrypt header sent by from. Headers that
// fail to parse or name another address are skipped; more than one valid
// header means none is used.
func FromMailHeader(h mail.Header, from string) *Header {
	var found *Header
	for _, value := range h.Values(FieldAutocrypt) {
		parsed, err := Parse(value)
		if err != nil || !model.AddrEqual(parsed.Addr, from) {
			continue
		}
		if found != nil {
			return nil
		}
		found = parsed
	}
	return found
}

// GossipFromHeader returns every valid Autocrypt-Gossip header of h.
func GossipFromHeader(h mail.Header) []*Header {
	var out []*Header
	for _, value := range h.Values(FieldGossip) {
		parsed, err := Parse(value)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}
