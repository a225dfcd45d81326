package e2ee

import "strings"

// Element is one thing observed while reading an OpenPGP message.
type Element int

const (
	ElementNone Element = iota
	ElementEncrypted
	ElementSignatureSeen
	ElementSignerKnown
	ElementSignerUnknown
	ElementBodyVerified
	ElementBodyFailed
)

// Observation is an element together with the signer it refers to. The
// fingerprint is set for ElementSignerKnown; ElementSignerUnknown carries
// the hex key id instead.
type Observation struct {
	Element     Element
	Fingerprint string
}

// OutcomeKind classifies an emitted outcome.
type OutcomeKind int

const (
	OutcomeEncrypted OutcomeKind = iota + 1
	OutcomeValid
	OutcomeInvalid
	OutcomeUnknown
)

// Outcome is emitted by Reduce when an observation settles something.
type Outcome struct {
	Kind        OutcomeKind
	Fingerprint string
}

// State is the fold state: the last element that moved the machine and
// the signer it is waiting to settle.
type State struct {
	Last   Element
	Signer string
}

// Reduce advances the validation state by one observation. Elements that
// arrive out of order leave the state unchanged and emit nothing.
func Reduce(s State, o Observation) (State, []Outcome) {
	switch o.Element {
	case ElementEncrypted:
		if s.Last != ElementNone {
			return s, nil
		}
		return State{Last: ElementEncrypted}, []Outcome{{Kind: OutcomeEncrypted}}

	case ElementSignatureSeen:
		if s.Last != ElementNone && s.Last != ElementEncrypted {
			return s, nil
		}
		return State{Last: ElementSignatureSeen}, nil

	case ElementSignerKnown:
		if s.Last != ElementSignatureSeen {
			return s, nil
		}
		return State{Last: ElementSignerKnown, Signer: o.Fingerprint}, nil

	case ElementSignerUnknown:
		if s.Last != ElementSignatureSeen {
			return s, nil
		}
		return State{Last: ElementSignerUnknown}, []Outcome{{Kind: OutcomeUnknown, Fingerprint: o.Fingerprint}}

	case ElementBodyVerified, ElementBodyFailed:
		if s.Last != ElementSignerKnown {
			return s, nil
		}
		kind := OutcomeValid
		if o.Element == ElementBodyFailed {
			kind = OutcomeInvalid
		}
		return State{Last: o.Element}, []Outcome{{Kind: kind, Fingerprint: s.Signer}}
	}
	return s, nil
}

// Signatures sorts the signers of a message into buckets.
type Signatures struct {
	Valid   []string
	Invalid []string
	// Unknown holds key ids of signers with no known key.
	Unknown []string
}

// IsValid reports whether fpr made a good signature.
func (s Signatures) IsValid(fpr string) bool {
	if fpr == "" {
		return false
	}
	for _, v := range s.Valid {
		if strings.EqualFold(v, fpr) {
			return true
		}
	}
	return false
}

// Fold runs observations through Reduce and collects the outcomes.
func Fold(obs []Observation) (encrypted bool, sigs Signatures) {
	var s State
	for _, o := range obs {
		var outs []Outcome
		s, outs = Reduce(s, o)
		for _, out := range outs {
			switch out.Kind {
			case OutcomeEncrypted:
				encrypted = true
			case OutcomeValid:
				sigs.Valid = append(sigs.Valid, out.Fingerprint)
			case OutcomeInvalid:
				sigs.Invalid = append(sigs.Invalid, out.Fingerprint)
			case OutcomeUnknown:
				sigs.Unknown = append(sigs.Unknown, out.Fingerprint)
			}
		}
	}
	return encrypted, sigs
}
