package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFeatures is returned for patient features that cannot form a query.
var ErrInvalidFeatures = errors.New("invalid patient features")

// PatientFeatures are the structured inputs of a recommendation. Lab values are
// optional; ACR is in mg/mmol.
type PatientFeatures struct {
	Age          int      `json:"age,omitempty"`
	Sex          string   `json:"sex,omitempty"`
	EGFR         *float64 `json:"egfr,omitempty"`
	ACR          *float64 `json:"acr,omitempty"`
	Creatinine   *float64 `json:"creatinine,omitempty"`
	Diabetes     bool     `json:"diabetes,omitempty"`
	Hypertension bool     `json:"hypertension,omitempty"`
	Medications  []string `json:"medications,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
}

// Validate checks ranges and that there is something to build a query from.
func (f PatientFeatures) Validate() error {
	switch {
	case f.Age < 0 || f.Age > 130:
		return fmt.Errorf("%w: age %d out of range", ErrInvalidFeatures, f.Age)
	case f.EGFR != nil && *f.EGFR < 0:
		return fmt.Errorf("%w: eGFR must not be negative", ErrInvalidFeatures)
	case f.ACR != nil && *f.ACR < 0:
		return fmt.Errorf("%w: ACR must not be negative", ErrInvalidFeatures)
	case f.Creatinine != nil && *f.Creatinine < 0:
		return fmt.Errorf("%w: creatinine must not be negative", ErrInvalidFeatures)
	case f.EGFR == nil && f.ACR == nil && strings.TrimSpace(f.Notes) == "":
		return fmt.Errorf("%w: one of egfr, acr or notes is required", ErrInvalidFeatures)
	}
	return nil
}

// GFRCategory returns the KDIGO GFR category for an eGFR in mL/min/1.73m².
func GFRCategory(egfr float64) string {
	switch {
	case egfr >= 90:
		return "G1"
	case egfr >= 60:
		return "G2"
	case egfr >= 45:
		return "G3a"
	case egfr >= 30:
		return "G3b"
	case egfr >= 15:
		return "G4"
	default:
		return "G5"
	}
}

// AlbuminuriaCategory returns the KDIGO albuminuria category for an ACR in mg/mmol.
func AlbuminuriaCategory(acr float64) string {
	switch {
	case acr < 3:
		return "A1"
	case acr <= 30:
		return "A2"
	default:
		return "A3"
	}
}

// BuildQuery turns the features into one descriptive retrieval query.
func BuildQuery(f PatientFeatures) string {
	var parts []string

	var who []string
	if f.Age > 0 {
		who = append(who, strconv.Itoa(f.Age)+"-year-old")
	}
	if sex := strings.TrimSpace(f.Sex); sex != "" {
		who = append(who, strings.ToLower(sex))
	}
	who = append(who, "patient with chronic kidney disease")
	parts = append(parts, strings.Join(who, " "))

	if f.EGFR != nil {
		parts = append(parts, fmt.Sprintf("CKD stage %s (eGFR %s mL/min/1.73m²)", GFRCategory(*f.EGFR), num(*f.EGFR)))
	}
	if f.ACR != nil {
		parts = append(parts, fmt.Sprintf("albuminuria category %s (ACR %s mg/mmol)", AlbuminuriaCategory(*f.ACR), num(*f.ACR)))
	}
	if f.Creatinine != nil {
		parts = append(parts, fmt.Sprintf("serum creatinine %s µmol/L", num(*f.Creatinine)))
	}
	if f.Diabetes {
		parts = append(parts, "diabetes")
	}
	if f.Hypertension {
		parts = append(parts, "hypertension")
	}
	var meds []string
	for _, m := range f.Medications {
		if m = strings.TrimSpace(m); m != "" {
			meds = append(meds, m)
		}
	}
	if len(meds) > 0 {
		parts = append(parts, "current medications: "+strings.Join(meds, ", "))
	}
	if notes := strings.Join(strings.Fields(f.Notes), " "); notes != "" {
		parts = append(parts, "notes: "+notes)
	}

	return strings.Join(parts, "; ") + ". Recommended investigations, treatment, monitoring and referral."
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
