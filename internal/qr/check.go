package qr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/store"
)

// State classifies a checked code.
type State int

const (
	AskVerifyContact State = 200
	AskVerifyGroup   State = 202
	FprOK            State = 210
	FprMismatch      State = 220
	FprWithoutAddr   State = 230
	Addr             State = 320
	Text             State = 330
	URL              State = 332
	Error            State = 400
)

func (s State) String() string {
	switch s {
	case AskVerifyContact:
		return "ask-verify-contact"
	case AskVerifyGroup:
		return "ask-verify-group"
	case FprOK:
		return "fingerprint-ok"
	case FprMismatch:
		return "fingerprint-mismatch"
	case FprWithoutAddr:
		return "fingerprint-without-address"
	case Addr:
		return "address"
	case Text:
		return "text"
	case URL:
		return "url"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is a checked code.
type Result struct {
	State State
	// ContactID is the contact the code names, if any.
	ContactID    int64
	Fingerprint  string
	InviteNumber string
	Auth         string
	GroupID      string
	GroupName    string
	// Text is the error message, URL, text or formatted fingerprint,
	// depending on State.
	Text string
}

// Interpreter resolves codes against the mailbox.
type Interpreter struct {
	mb  mailbox.Facade
	log *zap.SugaredLogger
}

// NewInterpreter creates an interpreter working on mb.
func NewInterpreter(mb mailbox.Facade, log *zap.SugaredLogger) *Interpreter {
	return &Interpreter{mb: mb, log: log}
}

// Check classifies text. Contacts named by the code are created with the
// weakest origin that still shows them, which authorizes nothing.
func (in *Interpreter) Check(ctx context.Context, text string) (Result, error) {
	in.log.Infow("scanned QR code", "text", text)

	s := Parse(text)
	if s.Err != "" {
		return Result{State: Error, Text: s.Err}, nil
	}

	switch {
	case s.Fingerprint != "" && (s.Addr == "" || s.InviteNumber == "" || s.Auth == ""):
		return in.checkFingerprint(ctx, s)

	case s.Fingerprint != "":
		// The fingerprint is not compared yet; it may have changed and
		// the handshake checks it properly.
		id, _, err := in.mb.AddOrLookupContact(ctx, s.Name, s.Addr, model.OriginUnhandledQRScan)
		if err != nil {
			return Result{}, err
		}
		r := Result{
			State:        AskVerifyContact,
			ContactID:    id,
			Fingerprint:  s.Fingerprint,
			InviteNumber: s.InviteNumber,
			Auth:         s.Auth,
		}
		if s.GroupID != "" && s.GroupName != "" {
			r.State = AskVerifyGroup
			r.GroupID = s.GroupID
			r.GroupName = s.GroupName
			r.Text = s.GroupName
		}
		return r, nil

	case s.Addr != "":
		id, _, err := in.mb.AddOrLookupContact(ctx, s.Name, s.Addr, model.OriginUnhandledQRScan)
		if err != nil {
			return Result{}, err
		}
		return Result{State: Addr, ContactID: id}, nil

	case strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://"):
		return Result{State: URL, Text: text}, nil

	default:
		return Result{State: Text, Text: text}, nil
	}
}

func (in *Interpreter) checkFingerprint(ctx context.Context, s Scan) (Result, error) {
	var (
		ps  *peerstate.Peerstate
		err error
	)
	if s.Addr != "" {
		ps, err = peerstate.LoadByAddr(ctx, in.mb, s.Addr)
		if err == nil && !strings.EqualFold(ps.PublicKeyFingerprint, s.Fingerprint) {
			id, _, err := in.mb.AddOrLookupContact(ctx, s.Name, s.Addr, model.OriginUnhandledQRScan)
			if err != nil {
				return Result{}, err
			}
			return Result{State: FprMismatch, ContactID: id, Fingerprint: s.Fingerprint}, nil
		}
	}
	if ps == nil {
		ps, err = peerstate.LoadByFingerprint(ctx, in.mb, s.Fingerprint)
	}
	if errors.Is(err, store.ErrNotFound) {
		return Result{
			State:       FprWithoutAddr,
			Fingerprint: s.Fingerprint,
			Text:        key.FormatFingerprint(s.Fingerprint),
		}, nil
	}
	if err != nil {
		return Result{}, err
	}

	id, _, err := in.mb.AddOrLookupContact(ctx, "", ps.Addr, model.OriginUnhandledQRScan)
	if err != nil {
		return Result{}, err
	}
	chatID, _, err := in.mb.CreateOrLookupSingleChat(ctx, id, model.ChatDeaddropBlocked)
	if err != nil {
		return Result{}, err
	}
	if _, err := in.mb.AddDeviceMessage(ctx, chatID, fmt.Sprintf("%s verified.", ps.Addr)); err != nil {
		return Result{}, err
	}
	return Result{State: FprOK, ContactID: id, Fingerprint: s.Fingerprint}, nil
}
