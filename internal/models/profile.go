package models

import (
	"slices"
	"time"
)

type Severity string

const (
	SeverityMild     Severity = "Mild"
	SeverityModerate Severity = "Moderate"
	SeveritySevere   Severity = "Severe"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

const (
	BloodTypeUnknown = "Unknown"
	DefaultGender    = "Prefer not to say"
)

var bloodTypes = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-", BloodTypeUnknown}

func ValidBloodType(bt string) bool {
	return slices.Contains(bloodTypes, bt)
}

// MedicalProfile is the full record kept by the profile store.
type MedicalProfile struct {
	UserID              string             `json:"userId"`
	FullName            string             `json:"fullName"`
	DateOfBirth         string             `json:"dateOfBirth"`
	Gender              string             `json:"gender"`
	BloodType           string             `json:"bloodType"`
	StudentID           string             `json:"studentId"`
	Allergies           []string           `json:"allergies"`
	Conditions          []Condition        `json:"conditions"`
	EmergencyContacts   []EmergencyContact `json:"emergencyContacts"`
	Medications         []Medication       `json:"medications"`
	SpecialInstructions string             `json:"specialInstructions"`
	LastUpdated         time.Time          `json:"lastUpdated"`
}

type Condition struct {
	Name                  string       `json:"name"`
	Severity              Severity     `json:"severity"`
	Details               string       `json:"details"`
	Medications           []Medication `json:"medications,omitempty"`
	EmergencyInstructions string       `json:"emergencyInstructions"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Purpose   string `json:"purpose,omitempty"`
}

type EmergencyContact struct {
	Name           string `json:"name"`
	Relationship   string `json:"relationship"`
	PhoneNumber    string `json:"phoneNumber"`
	AlternatePhone string `json:"alternatePhone,omitempty"`
}

// MedicalProfileSnapshot is the subset of a profile attached to an alert.
type MedicalProfileSnapshot struct {
	BloodType         string              `json:"bloodType"`
	Allergies         []string            `json:"allergies"`
	Conditions        []ConditionSnapshot `json:"conditions"`
	EmergencyContacts []EmergencyContact  `json:"emergencyContacts"`
}

type ConditionSnapshot struct {
	Name                  string   `json:"name"`
	Severity              Severity `json:"severity"`
	EmergencyInstructions string   `json:"emergencyInstructions"`
}

// Snapshot extracts the alert-facing view of the profile.
func (p *MedicalProfile) Snapshot() MedicalProfileSnapshot {
	s := MedicalProfileSnapshot{
		BloodType:         p.BloodType,
		Allergies:         slices.Clone(p.Allergies),
		Conditions:        make([]ConditionSnapshot, 0, len(p.Conditions)),
		EmergencyContacts: slices.Clone(p.EmergencyContacts),
	}
	for _, c := range p.Conditions {
		s.Conditions = append(s.Conditions, ConditionSnapshot{
			Name:                  c.Name,
			Severity:              c.Severity,
			EmergencyInstructions: c.EmergencyInstructions,
		})
	}
	return s
}

func (s MedicalProfileSnapshot) Clone() MedicalProfileSnapshot {
	return MedicalProfileSnapshot{
		BloodType:         s.BloodType,
		Allergies:         slices.Clone(s.Allergies),
		Conditions:        slices.Clone(s.Conditions),
		EmergencyContacts: slices.Clone(s.EmergencyContacts),
	}
}

// ApplyDefaults fills in the values the store assumes for unset fields.
func (p *MedicalProfile) ApplyDefaults() {
	if p.Gender == "" {
		p.Gender = DefaultGender
	}
	if p.BloodType == "" {
		p.BloodType = BloodTypeUnknown
	}
	for i := range p.Conditions {
		if p.Conditions[i].Severity == "" {
			p.Conditions[i].Severity = SeverityModerate
		}
	}
}
