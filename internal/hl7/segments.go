// Package hl7 renders workflow events as HL7 v2.x text for display. The
// output is educational, not an interchange surface: segments are modeled
// explicitly so rendering is a pure function of the case snapshot.
package hl7

import (
	"crypto/md5"
	"strings"

	"github.com/google/uuid"
)

const (
	fieldSep    = "|"
	segmentSep  = "\r"
	encodingChs = `^~\&`
)

// Segment is one HL7 segment: a three-letter ID and its fields in order.
// Field 0 is the first field after the segment ID.
type Segment struct {
	ID     string
	Fields []string
}

// Message is an ordered list of segments.
type Message []Segment

// Encode renders the message with | field separators and \r segment
// terminators. Field values are sanitized; encoding never fails.
func (m Message) Encode() string {
	var b strings.Builder
	for i, seg := range m {
		if i > 0 {
			b.WriteString(segmentSep)
		}
		b.WriteString(seg.ID)
		for _, f := range seg.Fields {
			b.WriteString(fieldSep)
			b.WriteString(sanitizeField(f))
		}
	}
	return b.String()
}

// msh builds the message header. MSH-1 is the field separator itself, so
// the first explicit field is the encoding characters.
func msh(sendingApp, sendingFac, receivingApp, receivingFac, ts, messageType, controlID string) Segment {
	return Segment{ID: "MSH", Fields: []string{
		encodingChs, sendingApp, sendingFac, receivingApp, receivingFac, ts, "", messageType, controlID, "P", "2.3",
	}}
}

// sanitizeField keeps HL7 fields single-line and free of separator
// characters. MSH-2 carries the encoding characters verbatim.
func sanitizeField(s string) string {
	if s == encodingChs {
		return s
	}
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, "~", "-")
	s = strings.ReplaceAll(s, "\\", "/")
	return strings.TrimSpace(s)
}

// controlID derives a deterministic message control ID from the event kind
// and correlation keys, so identical snapshots render identical text.
func controlID(prefix string, parts ...string) string {
	sum := md5.Sum([]byte(prefix + "\x00" + strings.Join(parts, "\x00")))
	u, err := uuid.FromBytes(sum[:])
	if err != nil {
		return prefix + "000000"
	}
	hex := strings.ReplaceAll(u.String(), "-", "")
	return prefix + strings.ToUpper(hex[:6])
}
