package securejoin

import "github.com/nhle/peertrust/internal/qr"

// expect is the next step a joiner waits for.
type expect int

const (
	expectNothing expect = iota
	expectAuthRequired
	expectContactConfirm
)

// Session is one running join, registered by the id of the chat with the
// inviter. Its fields are guarded by the mailbox lock.
type Session struct {
	ContactChatID int64
	ContactID     int64
	Scan          qr.Result

	expect expect
	done   chan error
}

func newSession(contactChatID int64, scan qr.Result) *Session {
	return &Session{
		ContactChatID: contactChatID,
		ContactID:     scan.ContactID,
		Scan:          scan,
		done:          make(chan error, 1),
	}
}

func (s *Session) group() bool {
	return s.Scan.State == qr.AskVerifyGroup
}

// finish ends the session with err, nil meaning success. Only the first
// call has an effect.
func (s *Session) finish(err error) {
	s.expect = expectNothing
	select {
	case s.done <- err:
	default:
	}
}
