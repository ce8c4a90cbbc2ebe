package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chartlydata/payee-match/internal/errs"
	"github.com/chartlydata/payee-match/internal/registry"
)

// ---- registry.ReviewStore ----
//
// Mirrors the teacher's append-only-ledger-plus-row-lock pattern in
// services/audit/internal/ledger/append_only.go: inserts are unconditional,
// but a status transition only commits if the row is still "open", checked
// and updated in the same statement so two concurrent approve/reject calls
// cannot both succeed (§5).

func (s *Store) CreateReviewItem(ctx context.Context, item registry.ReviewItem) (registry.ReviewItem, error) {
	candidates, err := json.Marshal(item.Candidates)
	if err != nil {
		return registry.ReviewItem{}, fmt.Errorf("%w: marshal candidates: %v", ErrDB, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_items (id, q_name_raw, q_name_canon, candidates, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.QNameRaw, item.QNameCanon, candidates, string(item.Status), item.CreatedAt)
	if err != nil {
		return registry.ReviewItem{}, fmt.Errorf("%w: %v", ErrDB, err)
	}
	return item, nil
}

func (s *Store) GetReviewItem(ctx context.Context, id string) (registry.ReviewItem, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, q_name_raw, q_name_canon, candidates, status, created_at, reviewed_at, reviewer_notes
		FROM review_items WHERE id = $1
	`, id)
	item, err := scanReviewItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.ReviewItem{}, false, nil
	}
	if err != nil {
		return registry.ReviewItem{}, false, fmt.Errorf("%w: %v", ErrDB, err)
	}
	return item, true, nil
}

func (s *Store) ListOpenReviewItems(ctx context.Context, limit int) ([]registry.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, q_name_raw, q_name_canon, candidates, status, created_at, reviewed_at, reviewer_notes
		FROM review_items WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, string(registry.ReviewOpen), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}
	defer rows.Close()

	var out []registry.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDB, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Resolve transitions a review item and appends a label row in one
// transaction. The UPDATE's WHERE clause re-checks status = 'open', so a
// second concurrent caller's UPDATE affects zero rows and is reported as
// already-resolved rather than racing the first.
func (s *Store) Resolve(ctx context.Context, id string, approved bool, payeeID int64, notes string) (registry.ReviewItem, error) {
	status := registry.ReviewRejected
	if approved {
		status = registry.ReviewApproved
	}
	now := s.opt.Clock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.ReviewItem{}, fmt.Errorf("%w: %v", ErrDB, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE review_items SET status = $1, reviewed_at = $2, reviewer_notes = $3
		WHERE id = $4 AND status = $5
	`, string(status), now, notes, id, string(registry.ReviewOpen))
	if err != nil {
		return registry.ReviewItem{}, fmt.Errorf("%w: %v", ErrDB, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.ReviewItem{}, fmt.Errorf("%w: %v", ErrDB, err)
	}
	if n == 0 {
		row := tx.QueryRowContext(ctx, `SELECT 1 FROM review_items WHERE id = $1`, id)
		var exists int
		if scanErr := row.Scan(&exists); errors.Is(scanErr, sql.ErrNoRows) {
			return registry.ReviewItem{}, errs.New(errs.ReviewNotFound, errs.ErrNotFound)
		}
		return registry.ReviewItem{}, errs.New(errs.ReviewAlreadyResolved, errs.ErrAlreadyResolved)
	}

	var meta []byte
	_, err = tx.ExecContext(ctx, `
		INSERT INTO labels (q_name_raw, q_name_canon, payee_id, y, meta, created_at)
		SELECT q_name_raw, q_name_canon, $1, $2, $3, $4 FROM review_items WHERE id = $5
	`, payeeID, approved, meta, now, id)
	if err != nil {
		return registry.ReviewItem{}, fmt.Errorf("%w: %v", ErrDB, err)
	}

	if err := tx.Commit(); err != nil {
		return registry.ReviewItem{}, fmt.Errorf("%w: %v", ErrDB, err)
	}
	return s.mustGetReviewItem(ctx, id)
}

func (s *Store) mustGetReviewItem(ctx context.Context, id string) (registry.ReviewItem, error) {
	item, found, err := s.GetReviewItem(ctx, id)
	if err != nil {
		return registry.ReviewItem{}, err
	}
	if !found {
		return registry.ReviewItem{}, errs.New(errs.ReviewNotFound, errs.ErrNotFound)
	}
	return item, nil
}

func scanReviewItem(rs rowScanner) (registry.ReviewItem, error) {
	var item registry.ReviewItem
	var candidates []byte
	var status string
	var reviewedAt sql.NullTime
	var notes sql.NullString
	err := rs.Scan(&item.ID, &item.QNameRaw, &item.QNameCanon, &candidates, &status,
		&item.CreatedAt, &reviewedAt, &notes)
	if err != nil {
		return registry.ReviewItem{}, err
	}
	item.Status = registry.ReviewStatus(status)
	item.ReviewerNotes = notes.String
	if reviewedAt.Valid {
		item.ReviewedAt = &reviewedAt.Time
	}
	if len(candidates) > 0 {
		_ = json.Unmarshal(candidates, &item.Candidates)
	}
	return item, nil
}
