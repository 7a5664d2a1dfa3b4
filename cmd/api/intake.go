package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"

	"radiology-simulator/internal/hl7"
	"radiology-simulator/internal/session"
)

// runHL7Intake serves an MLLP listener that feeds received messages into
// the workflow: an ADT^A01 admits the patient exactly as the dashboard
// form would. Enabled by HL7_LISTEN_ADDR, so an external KIS (or the
// trainer's script) can drive admissions over the wire.
func runHL7Intake(ctx context.Context, address string) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	logger.Info("hl7 intake started", "addr", address)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("hl7 intake accept failed", "error", err)
			continue
		}
		go serveHL7Intake(ctx, conn)
	}
}

func serveHL7Intake(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		raw, err := hl7.ReadMLLP(r)
		if err != nil {
			if err != io.EOF {
				logger.Warn("hl7 intake read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		msg, err := hl7.Parse(raw)
		if err != nil {
			logger.Warn("hl7 intake unparseable message", "remote", conn.RemoteAddr(), "error", err)
			hl7.WriteMLLP(conn, hl7.Ack(nil, "AE"))
			continue
		}

		code := "AA"
		if err := applyInboundMessage(ctx, msg); err != nil {
			logger.Warn("hl7 intake message rejected",
				"type", msg.MessageType(),
				"error", err)
			code = "AE"
		}
		if err := hl7.WriteMLLP(conn, hl7.Ack(msg, code)); err != nil {
			logger.Warn("hl7 intake ack failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}

// applyInboundMessage maps a received HL7 message onto a workflow event.
// Only ADT^A01 mutates state; everything else is acknowledged and dropped.
func applyInboundMessage(ctx context.Context, msg hl7.Message) error {
	if msg.MessageType() != string(hl7.ADTA01) {
		logger.Info("hl7 intake ignoring message", "type", msg.MessageType())
		return nil
	}

	pid, ok := msg.Segment("PID")
	if !ok {
		return hl7.ErrMalformedMessage
	}
	patientID := strings.TrimSpace(pid.Field(3))
	name := strings.TrimSpace(pid.Field(5))
	if patientID == "" || name == "" {
		return hl7.ErrMalformedMessage
	}

	scope := scopeFromPatientID(patientID)
	snap, err := tracker.Admit(ctx, scope, name, patientID)
	if err != nil {
		return err
	}
	logger.Info("hl7 intake admitted patient",
		"patient_id", snap.PatientID,
		"scope", scope)
	return nil
}

// scopeFromPatientID recovers the session scope from an already prefixed
// patient id. Issued codes win over the plain first-segment reading, since
// generated codes themselves contain a hyphen ("SUS-A1B2C3-PAT1"). Ids
// without a code-shaped prefix land in the trainer pool.
func scopeFromPatientID(patientID string) string {
	for _, code := range sessionCodes.List() {
		if strings.HasPrefix(patientID, code+"-") && len(patientID) > len(code)+1 {
			return code
		}
	}
	head, rest, found := strings.Cut(patientID, "-")
	if !found || rest == "" {
		return ""
	}
	if head == "" || head != session.Normalize(head) {
		return ""
	}
	return head
}
