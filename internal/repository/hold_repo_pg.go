package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadiumpark/parking/internal/domain"
)

// HoldRepository persists checkout holds. Create, Release, Expire and Convert
// each move the hold and the inventory counters in one transaction; a hold
// leaves the active state through exactly one conditional UPDATE, so a
// conversion racing the sweep resolves to whichever commits first.
type HoldRepository interface {
	// Create inserts an active hold and adds its quantity to held_count.
	// It returns domain.ErrCapacityExceeded without side effects when the
	// lot has no room left.
	Create(ctx context.Context, hold *domain.Hold) error
	Get(ctx context.Context, id string) (*domain.Hold, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.Hold, error)
	AttachSession(ctx context.Context, holdID, sessionID string) error
	// Release moves an active hold to status (expired or cancelled) and gives
	// its capacity back. The bool is false when the hold was already final.
	Release(ctx context.Context, holdID string, status domain.HoldStatus) (*domain.Hold, bool, error)
	// ExpireDue releases up to limit active holds whose expiry is before now.
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
	// Convert marks the hold converted, moves its quantity from held to
	// reserved and inserts reservation. It returns domain.ErrHoldExpired for
	// a released hold and domain.ErrDuplicateExternalSession when the hold
	// was already converted.
	Convert(ctx context.Context, holdID string, reservation *domain.Reservation) error
}

type PGHoldRepository struct {
	db *pgxpool.Pool
}

func NewHoldRepository(db *pgxpool.Pool) HoldRepository {
	return &PGHoldRepository{db: db}
}

const holdColumns = `id, event_id, lot_id, COALESCE(session_id, ''), quantity, status, expires_at, created_at, updated_at`

func scanHold(row scanner) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.EventID, &h.LotID, &h.SessionID, &h.Quantity, &h.Status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt)
	return h, err
}

func (r *PGHoldRepository) Create(ctx context.Context, hold *domain.Hold) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := takeCapacity(ctx, tx, hold.EventID, hold.LotID, `held_count = held_count + $3`, hold.Quantity); err != nil {
		return err
	}

	hold.Status = domain.HoldStatusActive
	if err := tx.QueryRow(ctx, `INSERT INTO holds (id, event_id, lot_id, session_id, quantity, status, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING created_at, updated_at`, hold.ID, hold.EventID, hold.LotID, hold.SessionID, hold.Quantity, hold.Status, hold.ExpiresAt).
		Scan(&hold.CreatedAt, &hold.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PGHoldRepository) Get(ctx context.Context, id string) (*domain.Hold, error) {
	if uuid.Validate(id) != nil {
		return nil, domain.ErrHoldNotFound
	}
	h, err := scanHold(r.db.QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrHoldNotFound)
	}
	return &h, nil
}

func (r *PGHoldRepository) GetBySession(ctx context.Context, sessionID string) (*domain.Hold, error) {
	h, err := scanHold(r.db.QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE session_id=$1`, sessionID))
	if err != nil {
		return nil, notFound(err, domain.ErrHoldNotFound)
	}
	return &h, nil
}

func (r *PGHoldRepository) AttachSession(ctx context.Context, holdID, sessionID string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE holds SET session_id=$2, updated_at=now() WHERE id=$1`, holdID, sessionID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

func (r *PGHoldRepository) Release(ctx context.Context, holdID string, status domain.HoldStatus) (*domain.Hold, bool, error) {
	if status != domain.HoldStatusExpired && status != domain.HoldStatusCancelled {
		return nil, false, fmt.Errorf("release hold: invalid target status %q", status)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	h, err := scanHold(tx.QueryRow(ctx, `UPDATE holds SET status=$2, updated_at=now()
		WHERE id=$1 AND status='active'
		RETURNING `+holdColumns, holdID, status))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := scanHold(tx.QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id=$1`, holdID))
		if err != nil {
			return nil, false, notFound(err, domain.ErrHoldNotFound)
		}
		return &current, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := giveBackHeld(ctx, tx, h); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

func (r *PGHoldRepository) ExpireDue(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SKIP LOCKED leaves holds that a conversion is holding to that conversion.
	rows, err := tx.Query(ctx, `UPDATE holds SET status='expired', updated_at=now()
		WHERE id IN (
			SELECT id FROM holds
			WHERE status='active' AND expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+holdColumns, now, limit)
	if err != nil {
		return nil, err
	}
	expired, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Hold, error) { return scanHold(row) })
	if err != nil {
		return nil, err
	}

	for _, h := range expired {
		if err := giveBackHeld(ctx, tx, h); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func (r *PGHoldRepository) Convert(ctx context.Context, holdID string, res *domain.Reservation) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	h, err := scanHold(tx.QueryRow(ctx, `UPDATE holds SET status='converted', updated_at=now()
		WHERE id=$1 AND status='active'
		RETURNING `+holdColumns, holdID))
	if errors.Is(err, pgx.ErrNoRows) {
		var status domain.HoldStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM holds WHERE id=$1`, holdID).Scan(&status); err != nil {
			return notFound(err, domain.ErrHoldNotFound)
		}
		if status == domain.HoldStatusConverted {
			return domain.ErrDuplicateExternalSession
		}
		return domain.ErrHoldExpired
	}
	if err != nil {
		return err
	}

	cmd, err := tx.Exec(ctx, `UPDATE inventory
		SET held_count = held_count - $3, reserved_count = reserved_count + $3, updated_at = now()
		WHERE event_id=$1 AND lot_id=$2`, h.EventID, h.LotID, h.Quantity)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInventoryNotFound
	}

	res.EventID = h.EventID
	res.LotID = h.LotID
	if err := insertReservation(ctx, tx, res); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// takeCapacity applies set to the inventory row only while held plus
// reserved plus qty stays within total capacity.
func takeCapacity(ctx context.Context, tx pgx.Tx, eventID, lotID, set string, qty int) error {
	cmd, err := tx.Exec(ctx, `UPDATE inventory SET `+set+`, updated_at = now()
		WHERE event_id=$1 AND lot_id=$2 AND held_count + reserved_count + $3 <= total_capacity`, eventID, lotID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE event_id=$1 AND lot_id=$2)`, eventID, lotID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrInventoryNotFound
	}
	return domain.ErrCapacityExceeded
}

func giveBackHeld(ctx context.Context, tx pgx.Tx, h domain.Hold) error {
	_, err := tx.Exec(ctx, `UPDATE inventory SET held_count = held_count - $3, updated_at = now()
		WHERE event_id=$1 AND lot_id=$2`, h.EventID, h.LotID, h.Quantity)
	return err
}

var _ HoldRepository = (*PGHoldRepository)(nil)
