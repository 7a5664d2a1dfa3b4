package scu

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted SCP helpers. The test plays the acceptor side of the upper
// layer protocol on a loopback listener.

func readPDU(t *testing.T, conn net.Conn) (byte, []byte) {
	t.Helper()
	header := make([]byte, 6)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)
	body := make([]byte, binary.BigEndian.Uint32(header[2:6]))
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return header[0], body
}

func writePDU(t *testing.T, conn net.Conn, pduType byte, body []byte) {
	t.Helper()
	header := make([]byte, 6)
	header[0] = pduType
	binary.BigEndian.PutUint32(header[2:6], uint32(len(body)))
	_, err := conn.Write(append(header, body...))
	require.NoError(t, err)
}

// associateAC builds an A-ASSOCIATE-AC answering the given context IDs.
// Rejected contexts carry a non-zero result.
func associateAC(accepted map[byte]bool) []byte {
	body := make([]byte, 0, 256)
	body = append(body, 0x00, 0x01) // protocol version
	body = append(body, 0x00, 0x00)
	body = append(body, padAETitle("ORTHANC")...)
	body = append(body, padAETitle("SIMULATOR")...)
	body = append(body, make([]byte, 32)...)

	body = append(body, 0x10, 0x00, 0x00, byte(len(ApplicationContextUID)))
	body = append(body, []byte(ApplicationContextUID)...)

	for id, ok := range accepted {
		result := byte(0)
		if !ok {
			result = 3 // abstract syntax not supported
		}
		item := []byte{id, 0x00, result, result}
		ts := TransferSyntaxImplicitVRLittleEndian
		item = append(item, 0x40, 0x00, 0x00, byte(len(ts)))
		item = append(item, []byte(ts)...)

		body = append(body, 0x21, 0x00)
		body = binary.BigEndian.AppendUint16(body, uint16(len(item)))
		body = append(body, item...)
	}
	return body
}

// readDIMSE collects P-DATA-TF PDUs into a command set plus dataset.
func readDIMSE(t *testing.T, conn net.Conn) (*types.Message, []byte) {
	t.Helper()
	var command, dataset []byte
	commandDone := false
	var msg *types.Message

	for {
		pduType, body := readPDU(t, conn)
		require.Equal(t, byte(pduPDataTF), pduType)

		offset := 0
		for offset < len(body) {
			pdvLen := binary.BigEndian.Uint32(body[offset : offset+4])
			end := offset + 4 + int(pdvLen)
			control := body[offset+5]
			value := body[offset+6 : end]
			if control&0x01 != 0 {
				command = append(command, value...)
				if control&0x02 != 0 {
					commandDone = true
					var err error
					msg, err = decodeCommand(command)
					require.NoError(t, err)
				}
			} else {
				dataset = append(dataset, value...)
				if control&0x02 != 0 {
					return msg, dataset
				}
			}
			offset = end
		}

		if commandDone && msg.CommandDataSetType == noDataSet {
			return msg, nil
		}
	}
}

// respCommand builds a DIMSE response command set the way an SCP would.
func respCommand(commandField, respondedTo, status uint16, withDataset bool) []byte {
	dsType := noDataSet
	if withDataset {
		dsType = hasDataSet
	}
	var buf []byte
	buf = appendImplicitElement(buf, 0x0000, 0x0100, uint16LE(commandField))
	buf = appendImplicitElement(buf, 0x0000, 0x0120, uint16LE(respondedTo))
	buf = appendImplicitElement(buf, 0x0000, 0x0800, uint16LE(dsType))
	buf = appendImplicitElement(buf, 0x0000, 0x0900, uint16LE(status))
	return buf
}

func writeDIMSE(t *testing.T, conn net.Conn, contextID byte, command, dataset []byte) {
	t.Helper()
	pdv := make([]byte, 0, len(command)+6)
	pdv = binary.BigEndian.AppendUint32(pdv, uint32(len(command)+2))
	pdv = append(pdv, contextID, 0x03)
	pdv = append(pdv, command...)
	writePDU(t, conn, pduPDataTF, pdv)

	if len(dataset) > 0 {
		pdv = pdv[:0]
		pdv = binary.BigEndian.AppendUint32(pdv, uint32(len(dataset)+2))
		pdv = append(pdv, contextID, 0x02)
		pdv = append(pdv, dataset...)
		writePDU(t, conn, pduPDataTF, pdv)
	}
}

func serveRelease(t *testing.T, conn net.Conn) {
	t.Helper()
	pduType, _ := readPDU(t, conn)
	assert.Equal(t, byte(pduReleaseRQ), pduType)
	writePDU(t, conn, pduReleaseRP, make([]byte, 4))
}

// startSCP runs script against the first accepted connection.
func startSCP(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(10 * time.Second))
		script(conn)
	}()
	return ln.Addr().String()
}

func testConfig() Config {
	return Config{
		CallingAETitle: "SIMULATOR",
		CalledAETitle:  "ORTHANC",
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func TestDialNegotiatesContexts(t *testing.T) {
	addr := startSCP(t, func(conn net.Conn) {
		pduType, body := readPDU(t, conn)
		assert.Equal(t, byte(pduAssociateRQ), pduType)
		assert.Equal(t, "ORTHANC", string(body[4:20][:7]))
		assert.Equal(t, "SIMULATOR", string(body[20:36][:9]))

		// Accept worklist (context 1), refuse move (context 3).
		writePDU(t, conn, pduAssociateAC, associateAC(map[byte]bool{1: true, 3: false}))
		serveRelease(t, conn)
	})

	a, err := Dial(addr, testConfig())
	require.NoError(t, err)
	defer a.Close()

	ctxID, err := a.contextFor(ModalityWorklistFindSOPClassUID)
	require.NoError(t, err)
	assert.Equal(t, byte(1), ctxID)

	_, err = a.contextFor(StudyRootMoveSOPClassUID)
	require.Error(t, err, "a refused context must not be usable")
}

func TestDialRejected(t *testing.T) {
	addr := startSCP(t, func(conn net.Conn) {
		readPDU(t, conn)
		writePDU(t, conn, pduAssociateRJ, make([]byte, 4))
	})

	_, err := Dial(addr, testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestSendFind(t *testing.T) {
	addr := startSCP(t, func(conn net.Conn) {
		readPDU(t, conn)
		writePDU(t, conn, pduAssociateAC, associateAC(map[byte]bool{1: true, 3: true}))

		msg, _ := readDIMSE(t, conn)
		assert.Equal(t, uint16(types.CFindRQ), msg.CommandField)
		assert.Equal(t, ModalityWorklistFindSOPClassUID, msg.AffectedSOPClassUID)

		match := dicom.NewDataset()
		match.AddElement(dicom.Tag{Group: 0x0010, Element: 0x0020}, dicom.VR_LO, "AB12-PAT1")
		writeDIMSE(t, conn, 1, respCommand(types.CFindRSP, msg.MessageID, types.StatusPending, true), match.EncodeDataset())
		writeDIMSE(t, conn, 1, respCommand(types.CFindRSP, msg.MessageID, types.StatusSuccess, false), nil)
		serveRelease(t, conn)
	})

	a, err := Dial(addr, testConfig())
	require.NoError(t, err)
	defer a.Close()

	query := dicom.NewDataset()
	query.AddElement(dicom.Tag{Group: 0x0010, Element: 0x0020}, dicom.VR_LO, "")
	results, err := a.SendFind(ModalityWorklistFindSOPClassUID, query)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, uint16(types.StatusPending), results[0].Status)
	require.NotNil(t, results[0].Dataset)
	assert.Equal(t, "AB12-PAT1", results[0].Dataset.GetString(dicom.Tag{Group: 0x0010, Element: 0x0020}))
	assert.Equal(t, uint16(types.StatusSuccess), results[1].Status)
	assert.Nil(t, results[1].Dataset)
}

func TestSendMove(t *testing.T) {
	addr := startSCP(t, func(conn net.Conn) {
		readPDU(t, conn)
		writePDU(t, conn, pduAssociateAC, associateAC(map[byte]bool{1: true, 3: true}))

		msg, _ := readDIMSE(t, conn)
		assert.Equal(t, uint16(types.CMoveRQ), msg.CommandField)
		assert.Equal(t, "RECEIVER", msg.MoveDestination)

		pending := respCommand(types.CMoveRSP, msg.MessageID, types.StatusPending, false)
		pending = appendImplicitElement(pending, 0x0000, 0x1020, uint16LE(1))
		pending = appendImplicitElement(pending, 0x0000, 0x1021, uint16LE(1))
		writeDIMSE(t, conn, 3, pending, nil)

		final := respCommand(types.CMoveRSP, msg.MessageID, types.StatusSuccess, false)
		final = appendImplicitElement(final, 0x0000, 0x1021, uint16LE(2))
		final = appendImplicitElement(final, 0x0000, 0x1022, uint16LE(0))
		final = appendImplicitElement(final, 0x0000, 0x1023, uint16LE(0))
		writeDIMSE(t, conn, 3, final, nil)
		serveRelease(t, conn)
	})

	a, err := Dial(addr, testConfig())
	require.NoError(t, err)
	defer a.Close()

	keys := dicom.NewDataset()
	keys.AddElement(dicom.Tag{Group: 0x0020, Element: 0x000D}, dicom.VR_UI, "1.2.3.4")
	res, err := a.SendMove("RECEIVER", keys)
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), res.Status)
	assert.Equal(t, uint16(2), res.Completed)
	assert.Equal(t, uint16(0), res.Failed)
}

func TestSendMoveRequiresDestination(t *testing.T) {
	a := &Assoc{contexts: map[byte]*presentationContext{}}
	_, err := a.SendMove("", dicom.NewDataset())
	require.Error(t, err)
}

func TestReceiveDIMSEAbort(t *testing.T) {
	addr := startSCP(t, func(conn net.Conn) {
		readPDU(t, conn)
		writePDU(t, conn, pduAssociateAC, associateAC(map[byte]bool{1: true}))
		readDIMSE(t, conn)
		writePDU(t, conn, pduAbort, []byte{0x00, 0x00, 0x02, 0x01})
	})

	a, err := Dial(addr, testConfig())
	require.NoError(t, err)
	defer a.conn.Close()

	query := dicom.NewDataset()
	query.AddElement(dicom.Tag{Group: 0x0010, Element: 0x0020}, dicom.VR_LO, "")
	_, err = a.SendFind(ModalityWorklistFindSOPClassUID, query)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A-ABORT")
}
