package models

import "time"

const (
	StatusActive    = "active"
	StatusResponded = "responded"

	DefaultAlertType   = "emergency"
	DefaultStudentName = "Anonymous Student"
	DefaultResponder   = "Unknown Admin"
)

type Alert struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	Location     Location    `json:"location"`
	StudentInfo  StudentInfo `json:"studentInfo"`
	AlertType    string      `json:"alertType"`
	Status       string      `json:"status"`
	ResponseTime *time.Time  `json:"responseTime"`
	RespondedBy  *string     `json:"respondedBy"`
}

type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

type StudentInfo struct {
	Name           string                  `json:"name"`
	SubjectID      *string                 `json:"userId"`         // nil for anonymous alerts
	MedicalProfile *MedicalProfileSnapshot `json:"medicalProfile"` // nil when enrichment found nothing
}

// IsActive reports whether the alert is still awaiting a response.
func (a Alert) IsActive() bool {
	return a.Status == StatusActive
}

// Clone returns a copy that shares no pointers with a.
func (a Alert) Clone() Alert {
	c := a
	c.Location.Altitude = cloneFloat(a.Location.Altitude)
	c.Location.Speed = cloneFloat(a.Location.Speed)
	c.Location.Heading = cloneFloat(a.Location.Heading)
	if a.StudentInfo.SubjectID != nil {
		id := *a.StudentInfo.SubjectID
		c.StudentInfo.SubjectID = &id
	}
	if a.StudentInfo.MedicalProfile != nil {
		mp := a.StudentInfo.MedicalProfile.Clone()
		c.StudentInfo.MedicalProfile = &mp
	}
	if a.ResponseTime != nil {
		rt := *a.ResponseTime
		c.ResponseTime = &rt
	}
	if a.RespondedBy != nil {
		rb := *a.RespondedBy
		c.RespondedBy = &rb
	}
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
