package model

import "time"

// Origin records how a contact became known. Origins are only ever raised,
// never lowered, so a weak origin cannot overwrite a strong one.
type Origin int

// Origin values, ordered from weakest to strongest.
const (
	OriginUnknown             Origin = 0
	OriginIncomingUnknownFrom Origin = 0x10
	OriginIncomingUnknownCc   Origin = 0x20
	OriginIncomingUnknownTo   Origin = 0x40
	OriginUnhandledQRScan     Origin = 0x80
	OriginIncomingReplyTo     Origin = 0x100
	OriginIncomingCc          Origin = 0x200
	OriginIncomingTo          Origin = 0x400
	OriginCreateChat          Origin = 0x800
	OriginOutgoingBcc         Origin = 0x1000
	OriginOutgoingCc          Origin = 0x2000
	OriginOutgoingTo          Origin = 0x4000
	OriginInternal            Origin = 0x40000
	OriginAddressBook         Origin = 0x80000
	OriginSecurejoinInvited   Origin = 0x1000000
	OriginSecurejoinJoined    Origin = 0x2000000
	OriginManuallyCreated     Origin = 0x4000000
)

// Reserved contact ids. Real contacts start after ContactIDLastSpecial.
const (
	ContactIDSelf        int64 = 1
	ContactIDDevice      int64 = 2
	ContactIDLastSpecial int64 = 9
)

// Contact is a communication partner identified by an email address.
type Contact struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Addr      string    `json:"addr" db:"addr"`
	Origin    Origin    `json:"origin" db:"origin"`
	Blocked   bool      `json:"blocked" db:"blocked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayName returns the contact name, falling back to the address.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Addr
}
