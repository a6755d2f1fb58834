package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mr1hm/campus-alert-relay/internal/models"
)

const alertColumns = `id, timestamp, latitude, longitude, accuracy, altitude, speed, heading,
	student_name, subject_id, medical_profile, alert_type, status, response_time, responded_by`

func (s *SQLiteDB) Add(ctx context.Context, a *models.Alert) error {
	var profile sql.NullString
	if a.StudentInfo.MedicalProfile != nil {
		b, err := json.Marshal(a.StudentInfo.MedicalProfile)
		if err != nil {
			return fmt.Errorf("error encoding medical profile: %w", err)
		}
		profile = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Timestamp.UnixNano(),
		a.Location.Latitude,
		a.Location.Longitude,
		a.Location.Accuracy,
		nullFloat(a.Location.Altitude),
		nullFloat(a.Location.Speed),
		nullFloat(a.Location.Heading),
		a.StudentInfo.Name,
		nullString(a.StudentInfo.SubjectID),
		profile,
		a.AlertType,
		a.Status,
		nullTime(a.ResponseTime),
		nullString(a.RespondedBy),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("alert %s: %w", a.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("error inserting alert: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading alert %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *opts.Status)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, seq DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	return s.queryAlerts(ctx, query, args...)
}

func (s *SQLiteDB) Count(ctx context.Context, status *string) (int, error) {
	var (
		n   int
		err error
	)
	if status != nil {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = ?`, *status).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("error counting alerts: %w", err)
	}
	return n, nil
}

// RecentActive returns the last n active alerts in insertion order.
func (s *SQLiteDB) RecentActive(ctx context.Context, n int) ([]models.Alert, error) {
	if n <= 0 {
		return []models.Alert{}, nil
	}
	alerts, err := s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE status = ? ORDER BY seq DESC LIMIT ?`,
		models.StatusActive, n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(alerts)
	return alerts, nil
}

func (s *SQLiteDB) UpdateResponse(ctx context.Context, id, status string, at time.Time, by string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, response_time = ?, responded_by = ? WHERE id = ?`,
		status, at.UnixNano(), by, id)
	if err != nil {
		return fmt.Errorf("error updating alert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) queryAlerts(ctx context.Context, query string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*models.Alert, error) {
	var (
		a                        models.Alert
		ts                       int64
		altitude, speed, heading sql.NullFloat64
		subjectID, profile       sql.NullString
		responseTime             sql.NullInt64
		respondedBy              sql.NullString
	)
	err := row.Scan(
		&a.ID,
		&ts,
		&a.Location.Latitude,
		&a.Location.Longitude,
		&a.Location.Accuracy,
		&altitude,
		&speed,
		&heading,
		&a.StudentInfo.Name,
		&subjectID,
		&profile,
		&a.AlertType,
		&a.Status,
		&responseTime,
		&respondedBy,
	)
	if err != nil {
		return nil, err
	}

	a.Timestamp = time.Unix(0, ts).UTC()
	a.Location.Altitude = floatPtr(altitude)
	a.Location.Speed = floatPtr(speed)
	a.Location.Heading = floatPtr(heading)
	a.StudentInfo.SubjectID = stringPtr(subjectID)
	a.RespondedBy = stringPtr(respondedBy)
	if responseTime.Valid {
		t := time.Unix(0, responseTime.Int64).UTC()
		a.ResponseTime = &t
	}
	if profile.Valid {
		var mp models.MedicalProfileSnapshot
		if err := json.Unmarshal([]byte(profile.String), &mp); err != nil {
			return nil, fmt.Errorf("error decoding medical profile: %w", err)
		}
		a.StudentInfo.MedicalProfile = &mp
	}
	return &a, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}
