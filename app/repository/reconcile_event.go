package repository

import (
	"context"
	"database/sql"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
)

// ReconcileEventRepository persists the audit trail of reconciliation
// sessions: statuses observed, terminals reached, conversions emitted.
type ReconcileEventRepository struct {
	db DBTX
}

func NewReconcileEventRepository(db DBTX) *ReconcileEventRepository {
	return &ReconcileEventRepository{db: db}
}

func (r *ReconcileEventRepository) Create(ctx context.Context, event *entity.ReconcileEvent) error {
	query := `
		INSERT INTO reconcile_events (
			session_id, purchase_id, event_type, old_state, new_state, attempt, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.SessionID,
		event.PurchaseID,
		event.EventType,
		nullableStringValue(event.OldState),
		nullableStringValue(event.NewState),
		event.Attempt,
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

func (r *ReconcileEventRepository) ListBySession(ctx context.Context, sessionID string, limit int32) ([]*entity.ReconcileEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_id, purchase_id, event_type, old_state, new_state, attempt, created_at
		FROM reconcile_events
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.ReconcileEvent, 0)
	for rows.Next() {
		var (
			event    entity.ReconcileEvent
			oldState sql.NullString
			newState sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.PurchaseID,
			&event.EventType,
			&oldState,
			&newState,
			&event.Attempt,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.OldState = stringPtrFromNull(oldState)
		event.NewState = stringPtrFromNull(newState)
		items = append(items, &event)
	}

	return items, rows.Err()
}
