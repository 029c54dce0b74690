package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"beamspot-go/internal/types"
)

// schema.sql holds one row per acquisition and one row per shot.
//
//go:embed schema.sql
var schemaSQL string

// Store keeps a history of acquisition reports in SQLite.
type Store struct {
	*sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	log.Printf("opened results database %s", path)
	return &Store{db}, nil
}

// SaveReport stores rep and its shots in one transaction.
func (s *Store) SaveReport(ctx context.Context, rep types.Report) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO acquisitions (id, started_at, finished_at, shots, error)
		VALUES (?, ?, ?, ?, ?)
	`, rep.ID, rep.StartedAt.UnixNano(), rep.FinishedAt.UnixNano(), rep.Shots, rep.Error)
	if err != nil {
		return fmt.Errorf("failed to insert acquisition: %v", err)
	}

	for shot := 0; shot < rep.Shots; shot++ {
		x, y, ev := rep.Shot(shot)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shot_values (acquisition_id, shot, x_um, y_um, ev, failure)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rep.ID, shot, nullable(x), nullable(y), nullable(ev), rep.Failures[shot])
		if err != nil {
			return fmt.Errorf("failed to insert shot %d: %v", shot, err)
		}
	}
	return tx.Commit()
}

// Consume saves every finished report.
func (s *Store) Consume(ctx context.Context, rep types.Report) error {
	return s.SaveReport(ctx, rep)
}

// Recent returns up to limit reports, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.Report, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, started_at, finished_at, shots, error
		FROM acquisitions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query acquisitions: %v", err)
	}
	defer rows.Close()

	var reports []types.Report
	for rows.Next() {
		var (
			rep               types.Report
			started, finished int64
		)
		if err := rows.Scan(&rep.ID, &started, &finished, &rep.Shots, &rep.Error); err != nil {
			return nil, err
		}
		rep.StartedAt = time.Unix(0, started)
		rep.FinishedAt = time.Unix(0, finished)
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range reports {
		if err := s.loadShots(ctx, &reports[i]); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *Store) loadShots(ctx context.Context, rep *types.Report) error {
	rows, err := s.QueryContext(ctx, `
		SELECT shot, x_um, y_um, ev, failure
		FROM shot_values
		WHERE acquisition_id = ?
		ORDER BY shot
	`, rep.ID)
	if err != nil {
		return fmt.Errorf("failed to query shots: %v", err)
	}
	defer rows.Close()

	rep.Stats = make(map[string]types.Measurement)
	for rows.Next() {
		var (
			shot     int
			x, y, ev sql.NullFloat64
			failure  string
		)
		if err := rows.Scan(&shot, &x, &y, &ev, &failure); err != nil {
			return err
		}
		rep.Stats[types.StatKey(types.KeyX, shot)] = measurement(x)
		rep.Stats[types.StatKey(types.KeyY, shot)] = measurement(y)
		rep.Stats[types.StatKey(types.KeyExposure, shot)] = measurement(ev)
		if failure != "" {
			if rep.Failures == nil {
				rep.Failures = make(map[int]string)
			}
			rep.Failures[shot] = failure
		}
	}
	return rows.Err()
}

func nullable(m types.Measurement) sql.NullFloat64 {
	return sql.NullFloat64{Float64: m.Value, Valid: m.Valid}
}

func measurement(v sql.NullFloat64) types.Measurement {
	if !v.Valid {
		return types.None()
	}
	return types.Some(v.Float64)
}
