package api

import (
	"github.com/mr1hm/campus-alert-relay/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(alerts []models.Alert) FeatureCollection {
	features := make([]Feature, 0, len(alerts))

	for _, a := range alerts {
		props := map[string]any{
			"id":        a.ID,
			"student":   a.StudentInfo.Name,
			"alertType": a.AlertType,
			"status":    a.Status,
			"accuracy":  a.Location.Accuracy,
			"timestamp": a.Timestamp,
		}
		if a.RespondedBy != nil {
			props["respondedBy"] = *a.RespondedBy
		}
		if mp := a.StudentInfo.MedicalProfile; mp != nil {
			props["bloodType"] = mp.BloodType
			props["allergies"] = mp.Allergies
		}

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{a.Location.Longitude, a.Location.Latitude},
			},
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
