package scu

import (
	"encoding/binary"
	"strings"

	"github.com/caio-sobreiro/dicomnet/types"
)

// Command data set type values (0000,0800).
const (
	noDataSet  = uint16(0x0101)
	hasDataSet = uint16(0x0000)
)

// encodeCommand serializes a DIMSE command set in Implicit VR Little Endian.
func encodeCommand(msg *types.Message) []byte {
	buf := make([]byte, 0, 256)

	// Command group length placeholder (0000,0000)
	buf = appendImplicitElement(buf, 0x0000, 0x0000, make([]byte, 4))
	lengthPos := len(buf) - 4

	if msg.AffectedSOPClassUID != "" {
		buf = appendImplicitElement(buf, 0x0000, 0x0002, evenPadded(msg.AffectedSOPClassUID))
	}

	buf = appendImplicitElement(buf, 0x0000, 0x0100, uint16LE(msg.CommandField))
	buf = appendImplicitElement(buf, 0x0000, 0x0110, uint16LE(msg.MessageID))

	if msg.MoveDestination != "" {
		buf = appendImplicitElement(buf, 0x0000, 0x0600, evenPadded(msg.MoveDestination))
	}

	buf = appendImplicitElement(buf, 0x0000, 0x0700, uint16LE(msg.Priority))
	buf = appendImplicitElement(buf, 0x0000, 0x0800, uint16LE(msg.CommandDataSetType))

	if msg.AffectedSOPInstanceUID != "" {
		buf = appendImplicitElement(buf, 0x0000, 0x1000, evenPadded(msg.AffectedSOPInstanceUID))
	}

	binary.LittleEndian.PutUint32(buf[lengthPos:lengthPos+4], uint32(len(buf)-lengthPos-4))
	return buf
}

func uint16LE(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func evenPadded(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	return b
}

func appendImplicitElement(buf []byte, group, element uint16, value []byte) []byte {
	buf = append(buf, byte(group), byte(group>>8))
	buf = append(buf, byte(element), byte(element>>8))
	length := uint32(len(value))
	buf = append(buf, byte(length), byte(length>>8), byte(length>>16), byte(length>>24))
	return append(buf, value...)
}

// decodeCommand parses a DIMSE command set, including the C-MOVE
// suboperation counters the responses carry.
func decodeCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{CommandDataSetType: noDataSet}
	offset := 0

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		if offset+8+int(length) > len(data) {
			break
		}
		value := data[offset+8 : offset+8+int(length)]

		if group == 0x0000 {
			switch element {
			case 0x0002:
				msg.AffectedSOPClassUID = trimUID(value)
			case 0x0100:
				msg.CommandField = u16(value)
			case 0x0110:
				msg.MessageID = u16(value)
			case 0x0120:
				msg.MessageIDBeingRespondedTo = u16(value)
			case 0x0600:
				msg.MoveDestination = trimUID(value)
			case 0x0700:
				msg.Priority = u16(value)
			case 0x0800:
				msg.CommandDataSetType = u16(value)
			case 0x0900:
				msg.Status = u16(value)
			case 0x1000:
				msg.AffectedSOPInstanceUID = trimUID(value)
			case 0x1020:
				v := u16(value)
				msg.NumberOfRemainingSuboperations = &v
			case 0x1021:
				v := u16(value)
				msg.NumberOfCompletedSuboperations = &v
			case 0x1022:
				v := u16(value)
				msg.NumberOfFailedSuboperations = &v
			case 0x1023:
				v := u16(value)
				msg.NumberOfWarningSuboperations = &v
			}
		}

		offset += 8 + int(length)
	}
	return msg, nil
}

func u16(value []byte) uint16 {
	if len(value) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(value[:2])
}

func trimUID(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}
