package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/lostfound/internal/model"
)

const requestColumns = `r.id, r.item_id, r.user_id, r.reason, r.status, r.created_at,
	r.resolved_at, r.resolved_by, COALESCE(i.title, r.item_title), COALESCE(u.username, '')`

const requestFrom = ` FROM deletion_requests r
	LEFT JOIN items i ON i.id = r.item_id
	LEFT JOIN users u ON u.id = r.user_id`

func scanRequest(row interface{ Scan(...any) error }, dr *model.DeletionRequest) error {
	var reason sql.NullString
	var itemID, resolvedBy sql.NullInt64
	err := row.Scan(&dr.ID, &itemID, &dr.UserID, &reason, &dr.Status, &dr.CreatedAt,
		&dr.ResolvedAt, &resolvedBy, &dr.ItemTitle, &dr.Username)
	if err != nil {
		return err
	}
	dr.Reason = reason.String
	if itemID.Valid {
		dr.ItemID = &itemID.Int64
	}
	if resolvedBy.Valid {
		dr.ResolvedBy = &resolvedBy.Int64
	}
	return nil
}

// CreateDeletionRequest files a request to remove an item. Returns
// ErrPendingRequest if the item already has one awaiting review, and nil if
// the item does not exist.
func CreateDeletionRequest(ctx context.Context, db *sql.DB, itemID, userID int64, reason string) (*model.DeletionRequest, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Write-lock the item row so concurrent requests for it queue up here.
	if _, err := tx.ExecContext(ctx, `UPDATE items SET id = id WHERE id = ?`, itemID); err != nil {
		return nil, fmt.Errorf("locking item: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO deletion_requests (item_id, item_title, user_id, reason)
		 SELECT i.id, i.title, ?, ? FROM items i
		 LEFT JOIN deletion_requests d ON d.item_id = i.id AND d.status = ?
		 WHERE i.id = ? AND d.id IS NULL`,
		userID, reason, model.RequestStatusPending, itemID,
	)
	if isUniqueViolation(err) {
		return nil, ErrPendingRequest
	}
	if err != nil {
		return nil, fmt.Errorf("creating deletion request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("creating deletion request: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE id = ?`, itemID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("checking item: %w", err)
		}
		if exists == 0 {
			return nil, nil
		}
		return nil, ErrPendingRequest
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting deletion request id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing deletion request: %w", err)
	}

	return GetDeletionRequest(ctx, db, id)
}

// GetDeletionRequest returns a deletion request by ID.
func GetDeletionRequest(ctx context.Context, db *sql.DB, id int64) (*model.DeletionRequest, error) {
	dr := &model.DeletionRequest{}
	err := scanRequest(db.QueryRowContext(ctx,
		`SELECT `+requestColumns+requestFrom+` WHERE r.id = ?`, id,
	), dr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting deletion request: %w", err)
	}
	return dr, nil
}

// ListDeletionRequests returns deletion requests, oldest first, optionally
// filtered by status.
func ListDeletionRequests(ctx context.Context, db *sql.DB, status string) ([]model.DeletionRequest, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = db.QueryContext(ctx,
			`SELECT `+requestColumns+requestFrom+` WHERE r.status = ? ORDER BY r.created_at, r.id`, status,
		)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT `+requestColumns+requestFrom+` ORDER BY r.created_at, r.id`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing deletion requests: %w", err)
	}
	defer rows.Close()

	var requests []model.DeletionRequest
	for rows.Next() {
		var dr model.DeletionRequest
		if err := scanRequest(rows, &dr); err != nil {
			return nil, fmt.Errorf("scanning deletion request: %w", err)
		}
		requests = append(requests, dr)
	}
	return requests, rows.Err()
}

// resolve marks a pending request with the given status inside tx and
// returns the request as it was before resolution. Returns nil if the
// request does not exist and ErrAlreadyResolved if it is not pending.
func resolve(ctx context.Context, tx *sql.Tx, id, adminID int64, status string) (*model.DeletionRequest, error) {
	dr := &model.DeletionRequest{}
	err := scanRequest(tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+requestFrom+` WHERE r.id = ?`, id,
	), dr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting deletion request: %w", err)
	}
	if dr.Status != model.RequestStatusPending {
		return nil, ErrAlreadyResolved
	}

	// The status guard decides races: only one resolver sees a pending row.
	result, err := tx.ExecContext(ctx,
		`UPDATE deletion_requests SET status = ?, resolved_at = CURRENT_TIMESTAMP, resolved_by = ?
		 WHERE id = ? AND status = ?`,
		status, adminID, id, model.RequestStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("resolving deletion request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolving deletion request: %w", err)
	}
	if n != 1 {
		return nil, ErrAlreadyResolved
	}

	dr.Status = status
	dr.ResolvedBy = &adminID
	return dr, nil
}

// ApproveDeletionRequest approves a pending request and deletes its item.
// The request itself is kept as a record of the approval.
func ApproveDeletionRequest(ctx context.Context, db *sql.DB, id, adminID int64) (*model.DeletionRequest, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	dr, err := resolve(ctx, tx, id, adminID, model.RequestStatusApproved)
	if err != nil || dr == nil {
		return nil, err
	}

	if dr.ItemID != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, *dr.ItemID); err != nil {
			return nil, fmt.Errorf("deleting requested item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing approval: %w", err)
	}
	return GetDeletionRequest(ctx, db, id)
}

// RejectDeletionRequest rejects a pending request, keeping the item.
func RejectDeletionRequest(ctx context.Context, db *sql.DB, id, adminID int64) (*model.DeletionRequest, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	dr, err := resolve(ctx, tx, id, adminID, model.RequestStatusRejected)
	if err != nil || dr == nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rejection: %w", err)
	}
	return GetDeletionRequest(ctx, db, id)
}
