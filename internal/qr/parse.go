// Package qr reads and writes the contents of scanned codes: secure-join
// invitations, fingerprints, addresses, URLs and plain text.
package qr

import (
	"net/url"
	"strings"

	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/model"
)

// Scheme prefixes, matched case-insensitively.
const (
	SchemeOpenPGP4FPR = "OPENPGP4FPR:"
	SchemeMailto      = "mailto:"
	SchemeSMTP        = "SMTP:"
	SchemeMATMSG      = "MATMSG:"
	SchemeVCard       = "BEGIN:VCARD"
)

// Scan holds the fields of a code before anything is looked up.
type Scan struct {
	Fingerprint  string
	Addr         string
	Name         string
	InviteNumber string
	Auth         string
	GroupID      string
	GroupName    string
	// Err is set when the code is malformed.
	Err string
}

// Parse splits a code into its fields. Addresses are decoded and
// normalized, fingerprints normalized and length checked.
func Parse(text string) Scan {
	var s Scan
	switch {
	case hasPrefixFold(text, SchemeOpenPGP4FPR):
		payload := text[len(SchemeOpenPGP4FPR):]
		payload, fragment, _ := strings.Cut(payload, "#")
		if fragment != "" {
			params := parseFragment(fragment)
			if a, ok := params["a"]; ok {
				s.Addr = a
				if n, ok := params["n"]; ok {
					s.Name = normalizeName(urlDecode(n))
				}
				s.InviteNumber = params["i"]
				s.Auth = params["s"]
				s.GroupID = params["x"]
				if s.GroupID != "" {
					s.GroupName = urlDecode(params["g"])
				}
			}
		}
		s.Fingerprint = key.NormalizeFingerprint(payload)

	case hasPrefixFold(text, SchemeMailto):
		payload := text[len(SchemeMailto):]
		payload, _, _ = strings.Cut(payload, "?")
		s.Addr = payload

	case hasPrefixFold(text, SchemeSMTP):
		payload := text[len(SchemeSMTP):]
		payload, _, _ = strings.Cut(payload, ":")
		s.Addr = payload

	case hasPrefixFold(text, SchemeMATMSG):
		_, to, ok := strings.Cut(text, "TO:")
		if !ok {
			s.Err = "Bad e-mail address."
			return s
		}
		s.Addr, _, _ = strings.Cut(to, ";")

	case hasPrefixFold(text, SchemeVCard):
		s.Addr, s.Name = parseVCard(text)
	}

	if s.Addr != "" {
		s.Addr = model.NormalizeAddr(urlDecode(s.Addr))
		if !model.MayBeValidAddr(s.Addr) {
			s.Err = "Bad e-mail address."
			return s
		}
	}
	if s.Fingerprint != "" && len(s.Fingerprint) != 40 {
		s.Err = "Bad fingerprint length in QR code."
		return s
	}
	return s
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// parseFragment reads single-letter key=value pairs joined by '&'.
// Values are returned as found; the caller decodes those that are
// URL-encoded.
func parseFragment(fragment string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(fragment, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || len(k) != 1 {
			continue
		}
		params[k] = v
	}
	return params
}

func urlDecode(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func urlEncode(s string) string {
	return url.QueryEscape(s)
}

func parseVCard(text string) (addr, name string) {
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		k, _, _ = strings.Cut(k, ";")
		switch {
		case strings.EqualFold(k, "EMAIL"):
			addr, _, _ = strings.Cut(v, ";")
		case strings.EqualFold(k, "N"):
			// lastname;firstname;middle;prefix;suffix
			parts := strings.SplitN(v, ";", 3)
			if len(parts) > 2 {
				parts = parts[:2]
			}
			name = normalizeName(strings.Join(parts, ","))
		}
	}
	return addr, name
}

// normalizeName strips enclosing quotes or brackets and turns
// "Last, First" into "First Last".
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 {
		first, last := name[0], name[len(name)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') || (first == '<' && last == '>') {
			name = strings.TrimSpace(name[1 : len(name)-1])
		}
	}
	if lastName, firstName, ok := strings.Cut(name, ","); ok {
		name = strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName)
	}
	return strings.TrimSpace(name)
}

// Invite is the content of a secure-join code.
type Invite struct {
	Fingerprint  string
	Addr         string
	Name         string
	InviteNumber string
	Auth         string
	// GroupID and GroupName are set for group invitations.
	GroupID   string
	GroupName string
}

// Format renders inv as an OPENPGP4FPR code.
func Format(inv Invite) string {
	var b strings.Builder
	b.WriteString(SchemeOpenPGP4FPR)
	b.WriteString(inv.Fingerprint)
	b.WriteString("#a=")
	b.WriteString(urlEncode(inv.Addr))
	if inv.GroupID != "" {
		b.WriteString("&g=")
		b.WriteString(urlEncode(inv.GroupName))
		b.WriteString("&x=")
		b.WriteString(inv.GroupID)
	} else {
		b.WriteString("&n=")
		b.WriteString(urlEncode(inv.Name))
	}
	b.WriteString("&i=")
	b.WriteString(inv.InviteNumber)
	b.WriteString("&s=")
	b.WriteString(inv.Auth)
	return b.String()
}
