package main

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

	"radiology-simulator/internal/hl7"
	"radiology-simulator/internal/models"
)

func startIntakeConn(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go serveHL7Intake(ctx, server)
	t.Cleanup(func() {
		client.Close()
		cancel()
	})
	return client, bufio.NewReader(client)
}

func sendHL7(t *testing.T, conn net.Conn, r *bufio.Reader, raw string) hl7.Message {
	t.Helper()
	if err := hl7.WriteMLLP(conn, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	ackRaw, err := hl7.ReadMLLP(r)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ack, err := hl7.Parse(ackRaw)
	if err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	return ack
}

func adtMessage(patientID, name string) string {
	return strings.Join([]string{
		"MSH|^~\\&|KIS|HOSP|RIS|RADIO|20260314092653||ADT^A01|MSG0001|P|2.3",
		"EVN|A01|20260314092653",
		"PID|1||" + patientID + "||" + name,
		"PV1|1|O",
	}, "\r")
}

func TestIntakeAdmitsADT(t *testing.T) {
	setupApp(t)
	conn, r := startIntakeConn(t)

	ack := sendHL7(t, conn, r, adtMessage("AB12-PAT1", "BOND^JAMES"))
	msa, ok := ack.Segment("MSA")
	if !ok {
		t.Fatal("expected an MSA segment in the ack")
	}
	if msa.Field(1) != "AA" {
		t.Fatalf("expected AA, got %s", msa.Field(1))
	}
	if msa.Field(2) != "MSG0001" {
		t.Errorf("ack must echo the control id, got %s", msa.Field(2))
	}

	c, err := tracker.Case(context.Background(), "AB12", "AB12-PAT1")
	if err != nil {
		t.Fatalf("case lookup: %v", err)
	}
	if c.Status != models.StatusAdmitted {
		t.Errorf("expected admitted, got %s", c.Status)
	}
	if c.PatientName != "BOND^JAMES" {
		t.Errorf("expected BOND^JAMES, got %s", c.PatientName)
	}
}

func TestIntakeUnprefixedIDLandsInTrainerPool(t *testing.T) {
	setupApp(t)
	conn, r := startIntakeConn(t)

	ack := sendHL7(t, conn, r, adtMessage("PAT9", "SOLO^HAN"))
	if msa, _ := ack.Segment("MSA"); msa.Field(1) != "AA" {
		t.Fatalf("expected AA, got %s", msa.Field(1))
	}

	c, err := tracker.Case(context.Background(), "", "PAT9")
	if err != nil {
		t.Fatalf("case lookup: %v", err)
	}
	if c.Scope != "" {
		t.Errorf("expected the trainer pool, got scope %q", c.Scope)
	}
}

func TestIntakeIgnoresOtherMessageTypes(t *testing.T) {
	setupApp(t)
	conn, r := startIntakeConn(t)

	oru := strings.Join([]string{
		"MSH|^~\\&|LIS|LAB|RIS|RADIO|20260314092653||ORU^R01|MSG0002|P|2.3",
		"PID|1||AB12-PAT1||BOND^JAMES",
	}, "\r")
	ack := sendHL7(t, conn, r, oru)
	if msa, _ := ack.Segment("MSA"); msa.Field(1) != "AA" {
		t.Fatalf("other types are acknowledged and dropped, got %s", msa.Field(1))
	}

	cases, err := tracker.Cases(context.Background(), "")
	if err != nil {
		t.Fatalf("cases: %v", err)
	}
	if len(cases) != 0 {
		t.Errorf("expected no admissions, got %d", len(cases))
	}
}

func TestIntakeRejectsIncompleteADT(t *testing.T) {
	setupApp(t)
	conn, r := startIntakeConn(t)

	noPID := "MSH|^~\\&|KIS|HOSP|RIS|RADIO|20260314092653||ADT^A01|MSG0003|P|2.3"
	ack := sendHL7(t, conn, r, noPID)
	if msa, _ := ack.Segment("MSA"); msa.Field(1) != "AE" {
		t.Fatalf("expected AE for an ADT without PID, got %s", msa.Field(1))
	}

	// Conflicting re-admission over the wire is refused the same way the
	// form is.
	sendHL7(t, conn, r, adtMessage("AB12-PAT1", "BOND^JAMES"))
	ack = sendHL7(t, conn, r, adtMessage("AB12-PAT1", "MONEYPENNY^JANE"))
	if msa, _ := ack.Segment("MSA"); msa.Field(1) != "AE" {
		t.Fatalf("expected AE for a duplicate identifier, got %s", msa.Field(1))
	}
}
