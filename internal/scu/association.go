// Package scu speaks the DICOM upper layer protocol for the two services
// the simulator needs beyond plain storage and study queries: Modality
// Worklist C-FIND and Study Root C-MOVE. It negotiates its own association
// so the proposed presentation contexts can be chosen per call.
package scu

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/caio-sobreiro/dicomnet/types"
)

// Well-known UIDs used by the simulator.
const (
	ApplicationContextUID = "1.2.840.10008.3.1.1.1"

	TransferSyntaxExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	TransferSyntaxImplicitVRLittleEndian = "1.2.840.10008.1.2"

	ModalityWorklistFindSOPClassUID = "1.2.840.10008.5.1.4.31"
	StudyRootMoveSOPClassUID        = "1.2.840.10008.5.1.4.1.2.2.2"
)

// PDU type bytes.
const (
	pduAssociateRQ = 0x01
	pduAssociateAC = 0x02
	pduAssociateRJ = 0x03
	pduPDataTF     = 0x04
	pduReleaseRQ   = 0x05
	pduReleaseRP   = 0x06
	pduAbort       = 0x07
)

// Config holds the association parameters.
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *slog.Logger

	// AbstractSyntaxes are the SOP classes proposed on the association.
	// Context IDs are assigned 1, 3, 5, ... in order.
	AbstractSyntaxes []string
}

type presentationContext struct {
	id             byte
	abstractSyntax string
	transferSyntax string
	accepted       bool
}

// Assoc is an established client-side association.
type Assoc struct {
	conn        net.Conn
	cfg         Config
	contexts    map[byte]*presentationContext
	logger      *slog.Logger
	nextMessage uint16
}

// Dial opens a TCP connection and negotiates an association proposing the
// configured abstract syntaxes.
func Dial(address string, cfg Config) (*Assoc, error) {
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = 16384
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.AbstractSyntaxes) == 0 {
		cfg.AbstractSyntaxes = []string{
			ModalityWorklistFindSOPClassUID,
			StudyRootMoveSOPClassUID,
		}
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set write deadline: %w", err)
	}

	a := &Assoc{
		conn:        conn,
		cfg:         cfg,
		contexts:    make(map[byte]*presentationContext),
		logger:      cfg.Logger,
		nextMessage: 1,
	}

	if err := a.sendAssociateRQ(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send A-ASSOCIATE-RQ: %w", err)
	}
	if err := a.receiveAssociateAC(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to receive A-ASSOCIATE-AC: %w", err)
	}

	a.logger.Debug("association established",
		"remote_addr", address,
		"calling_ae", cfg.CallingAETitle,
		"called_ae", cfg.CalledAETitle)
	return a, nil
}

// Close requests release and closes the connection.
func (a *Assoc) Close() error {
	if err := a.sendReleaseRQ(); err != nil {
		a.logger.Warn("failed to send release request", "error", err)
	}
	a.receiveReleaseRP()
	return a.conn.Close()
}

func (a *Assoc) messageID() uint16 {
	id := a.nextMessage
	a.nextMessage++
	return id
}

func padAETitle(title string) []byte {
	ae := make([]byte, 16)
	copy(ae, title)
	for i := len(title); i < 16; i++ {
		ae[i] = ' '
	}
	return ae
}

func (a *Assoc) sendAssociateRQ() error {
	buf := make([]byte, 0, 1024)

	// Protocol version, reserved
	buf = append(buf, 0x00, 0x01)
	buf = append(buf, 0x00, 0x00)
	buf = append(buf, padAETitle(a.cfg.CalledAETitle)...)
	buf = append(buf, padAETitle(a.cfg.CallingAETitle)...)
	buf = append(buf, make([]byte, 32)...)

	// Application Context Item
	buf = append(buf, 0x10, 0x00)
	buf = append(buf, 0x00, byte(len(ApplicationContextUID)))
	buf = append(buf, []byte(ApplicationContextUID)...)

	id := byte(1)
	for _, abstract := range a.cfg.AbstractSyntaxes {
		buf = a.addPresentationContext(buf, id, abstract)
		id += 2
	}

	buf = a.addUserInformation(buf)

	header := make([]byte, 6)
	header[0] = pduAssociateRQ
	binary.BigEndian.PutUint32(header[2:6], uint32(len(buf)))

	if _, err := a.conn.Write(header); err != nil {
		return err
	}
	_, err := a.conn.Write(buf)
	return err
}

func (a *Assoc) addPresentationContext(buf []byte, contextID byte, abstractSyntax string) []byte {
	pcStart := len(buf)

	buf = append(buf, 0x20, 0x00)
	buf = append(buf, 0x00, 0x00) // length placeholder
	buf = append(buf, contextID)
	buf = append(buf, 0x00, 0x00, 0x00)

	// Abstract syntax sub-item
	buf = append(buf, 0x30, 0x00)
	buf = append(buf, 0x00, byte(len(abstractSyntax)))
	buf = append(buf, []byte(abstractSyntax)...)

	// Transfer syntax sub-items, first is preferred
	for _, ts := range []string{TransferSyntaxExplicitVRLittleEndian, TransferSyntaxImplicitVRLittleEndian} {
		buf = append(buf, 0x40, 0x00)
		buf = append(buf, 0x00, byte(len(ts)))
		buf = append(buf, []byte(ts)...)
	}

	binary.BigEndian.PutUint16(buf[pcStart+2:pcStart+4], uint16(len(buf)-pcStart-4))

	a.contexts[contextID] = &presentationContext{
		id:             contextID,
		abstractSyntax: abstractSyntax,
	}
	return buf
}

func (a *Assoc) addUserInformation(buf []byte) []byte {
	uiStart := len(buf)

	buf = append(buf, 0x50, 0x00)
	buf = append(buf, 0x00, 0x00) // length placeholder

	// Maximum length sub-item
	buf = append(buf, 0x51, 0x00, 0x00, 0x04)
	maxLen := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLen, a.cfg.MaxPDULength)
	buf = append(buf, maxLen...)

	// Implementation class UID sub-item
	implClassUID := "1.2.840.10008.1.2.1"
	buf = append(buf, 0x52, 0x00)
	buf = append(buf, 0x00, byte(len(implClassUID)))
	buf = append(buf, []byte(implClassUID)...)

	// Implementation version name sub-item
	implVersion := "RADSIM-SCU-0.1"
	buf = append(buf, 0x55, 0x00)
	buf = append(buf, 0x00, byte(len(implVersion)))
	buf = append(buf, []byte(implVersion)...)

	binary.BigEndian.PutUint16(buf[uiStart+2:uiStart+4], uint16(len(buf)-uiStart-4))
	return buf
}

func (a *Assoc) receiveAssociateAC() error {
	header := make([]byte, 6)
	if _, err := io.ReadFull(a.conn, header); err != nil {
		return fmt.Errorf("failed to read PDU header: %w", err)
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])

	if pduType == pduAssociateRJ {
		return fmt.Errorf("association rejected by peer")
	}
	if pduType != pduAssociateAC {
		return fmt.Errorf("unexpected PDU type: 0x%02x (expected A-ASSOCIATE-AC)", pduType)
	}

	data := make([]byte, pduLength)
	if _, err := io.ReadFull(a.conn, data); err != nil {
		return fmt.Errorf("failed to read PDU data: %w", err)
	}

	// Walk the variable items for presentation context results.
	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			break
		}

		if itemType == 0x21 {
			contextID := data[offset+4]
			result := byte(0xff)
			if itemLength >= 4 {
				result = data[offset+7]
			}

			transferSyntax := ""
			subOffset := offset + 8
			for subOffset+4 <= itemEnd {
				subType := data[subOffset]
				subLength := binary.BigEndian.Uint16(data[subOffset+2 : subOffset+4])
				subEnd := subOffset + 4 + int(subLength)
				if subEnd > itemEnd {
					break
				}
				if subType == 0x40 && subLength > 0 {
					transferSyntax = strings.TrimRight(string(data[subOffset+4:subEnd]), "\x00 ")
				}
				subOffset = subEnd
			}

			if pc, ok := a.contexts[contextID]; ok {
				pc.accepted = result == 0
				if pc.accepted && transferSyntax != "" {
					pc.transferSyntax = transferSyntax
				}
				a.logger.Debug("presentation context negotiation",
					"context_id", contextID,
					"abstract_syntax", pc.abstractSyntax,
					"accepted", pc.accepted,
					"transfer_syntax", pc.transferSyntax)
			}
		}

		offset = itemEnd
	}
	return nil
}

func (a *Assoc) sendReleaseRQ() error {
	header := make([]byte, 6)
	header[0] = pduReleaseRQ
	binary.BigEndian.PutUint32(header[2:6], 4)
	if _, err := a.conn.Write(header); err != nil {
		return err
	}
	_, err := a.conn.Write(make([]byte, 4))
	return err
}

func (a *Assoc) receiveReleaseRP() error {
	header := make([]byte, 6)
	if _, err := io.ReadFull(a.conn, header); err != nil {
		return err
	}
	pduLength := binary.BigEndian.Uint32(header[2:6])
	data := make([]byte, pduLength)
	io.ReadFull(a.conn, data)
	if header[0] != pduReleaseRP {
		return fmt.Errorf("unexpected PDU type: 0x%02x", header[0])
	}
	return nil
}

func (a *Assoc) contextFor(abstractSyntax string) (byte, error) {
	for _, pc := range a.contexts {
		if pc.abstractSyntax == abstractSyntax && pc.accepted {
			return pc.id, nil
		}
	}
	return 0, fmt.Errorf("no accepted presentation context for abstract syntax: %s", abstractSyntax)
}

// sendDIMSE writes the command PDV and, when present, the dataset PDV.
func (a *Assoc) sendDIMSE(contextID byte, commandData, datasetData []byte) error {
	if err := a.sendPDataTF(contextID, commandData, true); err != nil {
		return err
	}
	if len(datasetData) > 0 {
		if err := a.sendPDataTF(contextID, datasetData, false); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assoc) sendPDataTF(contextID byte, data []byte, isCommand bool) error {
	maxPDVData := int(a.cfg.MaxPDULength) - 6 - 6

	offset := 0
	for offset < len(data) {
		chunkSize := len(data) - offset
		lastFragment := true
		if chunkSize > maxPDVData {
			chunkSize = maxPDVData
			lastFragment = false
		}

		pdvLength := uint32(chunkSize + 2)
		pdv := make([]byte, 0, pdvLength+4)

		lengthBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(lengthBytes, pdvLength)
		pdv = append(pdv, lengthBytes...)
		pdv = append(pdv, contextID)

		control := byte(0)
		if isCommand {
			control |= 0x01
		}
		if lastFragment {
			control |= 0x02
		}
		pdv = append(pdv, control)
		pdv = append(pdv, data[offset:offset+chunkSize]...)

		header := make([]byte, 6)
		header[0] = pduPDataTF
		binary.BigEndian.PutUint32(header[2:6], uint32(len(pdv)))

		if _, err := a.conn.Write(append(header, pdv...)); err != nil {
			return fmt.Errorf("failed to write PDU: %w", err)
		}
		offset += chunkSize
	}
	return nil
}

// receiveDIMSE reads a full DIMSE message: the command set and, when the
// command announces one, the dataset.
func (a *Assoc) receiveDIMSE() (*types.Message, []byte, error) {
	var commandData, datasetData []byte
	commandComplete := false
	datasetComplete := false
	datasetExpected := false
	var msg *types.Message

	for {
		header := make([]byte, 6)
		if _, err := io.ReadFull(a.conn, header); err != nil {
			return nil, nil, fmt.Errorf("failed to read PDU header: %w", err)
		}

		pduType := header[0]
		pduLength := binary.BigEndian.Uint32(header[2:6])

		switch pduType {
		case pduPDataTF:
			payload := make([]byte, pduLength)
			if _, err := io.ReadFull(a.conn, payload); err != nil {
				return nil, nil, fmt.Errorf("failed to read PDU data: %w", err)
			}

			offset := 0
			for offset < len(payload) {
				if offset+6 > len(payload) {
					return nil, nil, fmt.Errorf("malformed PDV encountered")
				}
				pdvLength := binary.BigEndian.Uint32(payload[offset : offset+4])
				end := offset + 4 + int(pdvLength)
				if end > len(payload) {
					return nil, nil, fmt.Errorf("PDV length exceeds PDU payload")
				}

				control := payload[offset+5]
				value := payload[offset+6 : end]
				isCommand := control&0x01 != 0
				isLast := control&0x02 != 0

				if isCommand {
					commandData = append(commandData, value...)
					if isLast {
						commandComplete = true
						decoded, err := decodeCommand(commandData)
						if err != nil {
							return nil, nil, fmt.Errorf("failed to decode command: %w", err)
						}
						msg = decoded
						if msg.CommandDataSetType != noDataSet {
							datasetExpected = true
							datasetComplete = len(datasetData) > 0 && datasetComplete
						} else {
							datasetExpected = false
							datasetComplete = true
						}
					}
				} else {
					datasetData = append(datasetData, value...)
					if isLast {
						datasetComplete = true
					}
				}
				offset = end
			}
		case pduAbort:
			abortData := make([]byte, pduLength)
			if _, err := io.ReadFull(a.conn, abortData); err != nil {
				return nil, nil, fmt.Errorf("failed to read ABORT data: %w", err)
			}
			var source, reason byte
			if len(abortData) >= 4 {
				source = abortData[2]
				reason = abortData[3]
			}
			return nil, nil, fmt.Errorf("received A-ABORT PDU (source=%d, reason=%d)", source, reason)
		default:
			discard := make([]byte, pduLength)
			if _, err := io.ReadFull(a.conn, discard); err != nil {
				return nil, nil, fmt.Errorf("failed to read unexpected PDU payload: %w", err)
			}
			return nil, nil, fmt.Errorf("unexpected PDU type: 0x%02x", pduType)
		}

		if commandComplete && (!datasetExpected || datasetComplete) {
			return msg, datasetData, nil
		}
	}
}
