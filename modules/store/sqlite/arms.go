package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/sgate/internal/routing"
)

// ArmStore implements routing.Store. Stats are kept as a JSON document;
// every write goes through the version column.
type ArmStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface check.
var _ routing.Store = (*ArmStore)(nil)

const armColumns = `id, instance_id, provider_model_id, provider, capability, model,
	weight, priority, active, epsilon, alpha, beta, stats, version, updated_at`

func (s *ArmStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArm(r rowScanner) (routing.Arm, error) {
	var (
		a         routing.Arm
		active    int
		stats     string
		updatedAt string
	)
	if err := r.Scan(
		&a.ID, &a.InstanceID, &a.ProviderModelID, &a.Provider, &a.Capability, &a.Model,
		&a.Weight, &a.Priority, &active, &a.Epsilon, &a.Alpha, &a.Beta,
		&stats, &a.Version, &updatedAt,
	); err != nil {
		return a, err
	}
	a.Active = active != 0
	a.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(stats), &a.Stats); err != nil {
		return a, fmt.Errorf("sqlite: decode stats of %s: %w", a.ID, err)
	}
	return a, nil
}

// Get implements routing.Store.
func (s *ArmStore) Get(ctx context.Context, id string) (routing.Arm, error) {
	a, err := scanArm(s.db.QueryRowContext(ctx,
		`SELECT `+armColumns+` FROM arms WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return routing.Arm{}, routing.ErrArmNotFound
	}
	if err != nil {
		return routing.Arm{}, fmt.Errorf("sqlite: get arm %s: %w", id, err)
	}
	return a, nil
}

// List implements routing.Store.
func (s *ArmStore) List(ctx context.Context, capability, model string) ([]routing.Arm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+armColumns+` FROM arms
		 WHERE (? = '' OR capability = ?) AND (? = '' OR model = ?)
		 ORDER BY id`,
		capability, capability, model, model,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list arms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []routing.Arm
	for rows.Next() {
		a, err := scanArm(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan arm: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CompareAndSwap implements routing.Store.
func (s *ArmStore) CompareAndSwap(ctx context.Context, arm routing.Arm, expectedVersion int64) (bool, error) {
	stats, err := json.Marshal(arm.Stats)
	if err != nil {
		return false, fmt.Errorf("sqlite: encode stats of %s: %w", arm.ID, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE arms SET
			instance_id = ?, provider_model_id = ?, provider = ?, capability = ?, model = ?,
			weight = ?, priority = ?, active = ?, epsilon = ?, alpha = ?, beta = ?,
			stats = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		arm.InstanceID, arm.ProviderModelID, arm.Provider, arm.Capability, arm.Model,
		arm.Weight, arm.Priority, boolInt(arm.Active), arm.Epsilon, arm.Alpha, arm.Beta,
		string(stats), formatTime(s.clock()),
		arm.ID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: swap arm %s: %w", arm.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: swap arm %s: %w", arm.ID, err)
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish a lost race from an arm that no longer exists.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM arms WHERE id = ?`, arm.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, routing.ErrArmNotFound
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: swap arm %s: %w", arm.ID, err)
	}
	return false, nil
}

// Upsert implements routing.Store. A new arm starts with empty stats at
// version 1; an existing one keeps its stats.
func (s *ArmStore) Upsert(ctx context.Context, arm routing.Arm) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO arms (`+armColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', 1, ?)
		 ON CONFLICT(id) DO UPDATE SET
			instance_id = excluded.instance_id,
			provider_model_id = excluded.provider_model_id,
			provider = excluded.provider,
			capability = excluded.capability,
			model = excluded.model,
			weight = excluded.weight,
			priority = excluded.priority,
			active = excluded.active,
			epsilon = excluded.epsilon,
			alpha = excluded.alpha,
			beta = excluded.beta,
			version = arms.version + 1,
			updated_at = excluded.updated_at`,
		arm.ID, arm.InstanceID, arm.ProviderModelID, arm.Provider, arm.Capability, arm.Model,
		arm.Weight, arm.Priority, boolInt(arm.Active), arm.Epsilon, arm.Alpha, arm.Beta,
		formatTime(s.clock()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert arm %s: %w", arm.ID, err)
	}
	return nil
}

// Delete removes an arm.
func (s *ArmStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM arms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete arm %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return routing.ErrArmNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
