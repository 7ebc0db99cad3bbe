package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadiumpark/parking/internal/domain"
)

// InventoryRepository owns the per event and lot counters. Every mutation is
// a single conditional UPDATE so concurrent callers are serialized by the
// row lock and capacity can never be exceeded.
type InventoryRepository interface {
	Get(ctx context.Context, eventID, lotID string) (*domain.Inventory, error)
	ListByEvent(ctx context.Context, eventID string) ([]domain.Inventory, error)
	// EnsureRow creates the row with the given capacity if it does not exist
	// and returns the current row either way.
	EnsureRow(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error)
	// SetCapacity changes total capacity. It fails with
	// domain.ErrCapacityBelowCommitted when reserved plus held spots exceed it.
	SetCapacity(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error)
}

type PGInventoryRepository struct {
	db *pgxpool.Pool
}

func NewInventoryRepository(db *pgxpool.Pool) InventoryRepository {
	return &PGInventoryRepository{db: db}
}

const inventoryColumns = `event_id, lot_id, total_capacity, reserved_count, checked_in_count, held_count, updated_at`

func scanInventory(row scanner) (domain.Inventory, error) {
	var i domain.Inventory
	err := row.Scan(&i.EventID, &i.LotID, &i.TotalCapacity, &i.ReservedCount, &i.CheckedInCount, &i.HeldCount, &i.UpdatedAt)
	return i, err
}

func (r *PGInventoryRepository) Get(ctx context.Context, eventID, lotID string) (*domain.Inventory, error) {
	inv, err := scanInventory(r.db.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE event_id=$1 AND lot_id=$2`, eventID, lotID))
	if err != nil {
		return nil, notFound(err, domain.ErrInventoryNotFound)
	}
	return &inv, nil
}

func (r *PGInventoryRepository) ListByEvent(ctx context.Context, eventID string) ([]domain.Inventory, error) {
	rows, err := r.db.Query(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE event_id=$1 ORDER BY lot_id`, eventID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Inventory, error) { return scanInventory(row) })
}

func (r *PGInventoryRepository) EnsureRow(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error) {
	if _, err := r.db.Exec(ctx, `INSERT INTO inventory (event_id, lot_id, total_capacity) VALUES ($1, $2, $3) ON CONFLICT (event_id, lot_id) DO NOTHING`, eventID, lotID, capacity); err != nil {
		return nil, err
	}
	return r.Get(ctx, eventID, lotID)
}

func (r *PGInventoryRepository) SetCapacity(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error) {
	row := r.db.QueryRow(ctx, `UPDATE inventory SET total_capacity=$3, updated_at=now()
		WHERE event_id=$1 AND lot_id=$2 AND reserved_count + held_count <= $3
		RETURNING `+inventoryColumns, eventID, lotID, capacity)
	inv, err := scanInventory(row)
	if err == nil {
		return &inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := r.Get(ctx, eventID, lotID); err != nil {
		return nil, err
	}
	return nil, domain.ErrCapacityBelowCommitted
}

var _ InventoryRepository = (*PGInventoryRepository)(nil)
