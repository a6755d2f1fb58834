package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/campus-alert-relay/internal/models"
)

func (s *SQLiteDB) GetProfile(ctx context.Context, userID string) (*models.MedicalProfile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM medical_profiles WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading medical profile %s: %w", userID, err)
	}

	var p models.MedicalProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("error decoding medical profile %s: %w", userID, err)
	}
	return &p, nil
}

func (s *SQLiteDB) UpsertProfile(ctx context.Context, p *models.MedicalProfile) error {
	if p.UserID == "" {
		return errors.New("medical profile requires a user id")
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error encoding medical profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO medical_profiles (user_id, data, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, last_updated = excluded.last_updated`,
		p.UserID, string(data), p.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("error saving medical profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *SQLiteDB) ListProfiles(ctx context.Context) ([]models.MedicalProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM medical_profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying medical profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]models.MedicalProfile, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("error scanning medical profile: %w", err)
		}
		var p models.MedicalProfile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("error decoding medical profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
