package hl7

import (
	"bufio"
	"fmt"
	"io"
)

// MLLP block framing: <VT> message <FS><CR>.
const (
	mllpStart = 0x0b
	mllpEnd   = 0x1c
	mllpCR    = 0x0d
)

// ReadMLLP reads one MLLP-framed message from r. io.EOF is returned
// unwrapped when the peer closes between messages.
func ReadMLLP(r *bufio.Reader) (string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if b != mllpStart {
		return "", fmt.Errorf("hl7: expected MLLP start block, got 0x%02x", b)
	}
	payload, err := r.ReadBytes(mllpEnd)
	if err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	payload = payload[:len(payload)-1]
	// Trailing CR after the end block is part of the frame.
	if b, err := r.ReadByte(); err == nil && b != mllpCR {
		r.UnreadByte()
	}
	return string(payload), nil
}

// WriteMLLP writes one MLLP-framed message to w.
func WriteMLLP(w io.Writer, message string) error {
	buf := make([]byte, 0, len(message)+3)
	buf = append(buf, mllpStart)
	buf = append(buf, message...)
	buf = append(buf, mllpEnd, mllpCR)
	_, err := w.Write(buf)
	return err
}

// Ack builds an HL7 ACK for the given inbound message. code is "AA" for
// accept or "AE" for error.
func Ack(inbound Message, code string) string {
	controlID := ""
	ts := ""
	if len(inbound) > 0 {
		controlID = inbound[0].Field(10)
		ts = inbound[0].Field(7)
	}
	ack := Message{
		msh("RIS", "RADIO", "KIS", "HOSP", ts, "ACK", "ACK"+controlID),
		{ID: "MSA", Fields: []string{code, controlID}},
	}
	return ack.Encode()
}
