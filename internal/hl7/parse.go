package hl7

import (
	"errors"
	"strings"
)

// CreatinineCritical is the threshold above which the lab OBX is flagged
// CRITICAL (contrast media risk).
const CreatinineCritical = 1.3

var ErrMalformedMessage = errors.New("hl7: malformed message")

// Parse splits raw HL7 text back into segments. It accepts \r, \n or \r\n
// segment terminators and tolerates trailing empty lines. Used by the MLLP
// intake and by round-trip tests; it is deliberately not a validator.
func Parse(raw string) (Message, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\r")
	raw = strings.ReplaceAll(raw, "\n", "\r")
	var msg Message
	for _, line := range strings.Split(raw, "\r") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < 4 || line[3] != '|' {
			return nil, ErrMalformedMessage
		}
		msg = append(msg, Segment{ID: line[:3], Fields: strings.Split(line[4:], fieldSep)})
	}
	if len(msg) == 0 || msg[0].ID != "MSH" {
		return nil, ErrMalformedMessage
	}
	return msg, nil
}

// Field returns field n (1-based, counting from the field after the
// segment ID) or "" when absent. For MSH, field 1 is the field separator
// per the standard, so Field(9) is the message type.
func (s Segment) Field(n int) string {
	idx := n - 1
	if s.ID == "MSH" {
		// MSH-1 is the separator itself, not stored.
		idx = n - 2
	}
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx]
}

// Segment returns the first segment with the given ID, if present.
func (m Message) Segment(id string) (Segment, bool) {
	for _, s := range m {
		if s.ID == id {
			return s, true
		}
	}
	return Segment{}, false
}

// MessageType returns MSH-9, e.g. "ADT^A01".
func (m Message) MessageType() string {
	if len(m) == 0 {
		return ""
	}
	return m[0].Field(9)
}
