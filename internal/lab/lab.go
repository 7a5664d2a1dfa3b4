// Package lab simulates the Laboratory Information System. Values are
// pseudo-random but deterministic per patient id, so repeating the query in
// class always shows the same result.
package lab

import (
	"math/rand"

	"radiology-simulator/internal/hl7"
)

// Result is one simulated creatinine observation.
type Result struct {
	PatientID string  `json:"patient_id"`
	Value     float64 `json:"value"` // mg/dL
	Unit      string  `json:"unit"`
	RefRange  string  `json:"ref_range"`
	Status    string  `json:"status"`
	Critical  bool    `json:"critical"`
}

// Creatinine returns the simulated creatinine for a patient. Roughly one in
// five patients lands above the critical threshold (renal insufficiency,
// contrast media risk).
func Creatinine(patientID string) Result {
	rng := rand.New(rand.NewSource(seed(patientID)))

	v := 0.5 + rng.Float64()*0.9
	if rng.Float64() > 0.8 {
		v += 0.5 + rng.Float64()*1.5
	}
	v = float64(int(v*100+0.5)) / 100

	res := Result{
		PatientID: patientID,
		Value:     v,
		Unit:      "mg/dL",
		RefRange:  "0.6-1.2",
		Status:    "NORMAL",
	}
	if v > hl7.CreatinineCritical {
		res.Status = "CRITICAL"
		res.Critical = true
	}
	return res
}

func seed(patientID string) int64 {
	var h int64 = 1125899906842597
	for _, c := range patientID {
		h = 31*h + int64(c)
	}
	return h
}
