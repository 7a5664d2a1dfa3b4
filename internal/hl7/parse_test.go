package hl7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineEndings(t *testing.T) {
	for _, sep := range []string{"\r", "\n", "\r\n"} {
		raw := "MSH|^~\\&|KIS|HOSP|RIS|RADIO|20260101000000||ADT^A01|X1|P|2.3" + sep +
			"PID|1||PAT1||BOND^JAMES" + sep
		msg, err := Parse(raw)
		require.NoError(t, err)
		require.Len(t, msg, 2)
		assert.Equal(t, "ADT^A01", msg.MessageType())
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"   \r\n",
		"not hl7 at all",
		"PID|1||PAT1",                 // no MSH first
		"MSHX^~\\&|KIS",               // missing separator after segment id
		"MS|1|too short a segment id", // 2-char id
	} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrMalformedMessage, "%q", raw)
	}
}

func TestSegmentFieldBounds(t *testing.T) {
	s := Segment{ID: "PID", Fields: []string{"1", "", "PAT1"}}
	assert.Equal(t, "1", s.Field(1))
	assert.Equal(t, "PAT1", s.Field(3))
	assert.Equal(t, "", s.Field(0))
	assert.Equal(t, "", s.Field(99))
}
