package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadiumpark/parking/internal/domain"
)

// CatalogRepository reads the reference data (events, lots and their
// assignments) maintained by the admin workflow.
type CatalogRepository interface {
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	EventsOn(ctx context.Context, date string) ([]domain.Event, error)
	GetLot(ctx context.Context, id string) (*domain.Lot, error)
	GetEventLot(ctx context.Context, eventID, lotID string) (*domain.EventLot, error)
	ListEventLots(ctx context.Context, eventID string) ([]domain.EventLot, error)
}

type PGCatalogRepository struct {
	db *pgxpool.Pool
}

func NewCatalogRepository(db *pgxpool.Pool) CatalogRepository {
	return &PGCatalogRepository{db: db}
}

const eventColumns = `id, name, event_date, event_time, description, is_published, is_away, is_bye, created_at, updated_at`

func scanEvent(row scanner) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Name, &e.Date, &e.Time, &e.Description, &e.IsPublished, &e.IsAway, &e.IsBye, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *PGCatalogRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_date, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) { return scanEvent(row) })
}

func (r *PGCatalogRepository) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrEventNotFound)
	}
	return &e, nil
}

func (r *PGCatalogRepository) EventsOn(ctx context.Context, date string) ([]domain.Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM events WHERE event_date=$1 ORDER BY event_time, id`, date)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) { return scanEvent(row) })
}

func (r *PGCatalogRepository) GetLot(ctx context.Context, id string) (*domain.Lot, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, capacity, price_cents, is_active, is_third_party, in_person_enabled, created_at, updated_at FROM lots WHERE id=$1`, id)
	var l domain.Lot
	if err := row.Scan(&l.ID, &l.Name, &l.Capacity, &l.PriceCents, &l.IsActive, &l.IsThirdParty, &l.InPersonEnabled, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, notFound(err, domain.ErrLotNotFound)
	}
	return &l, nil
}

func scanEventLot(row scanner) (domain.EventLot, error) {
	var el domain.EventLot
	err := row.Scan(&el.EventID, &el.LotID, &el.PriceOverrideCents, &el.CapacityOverride, &el.IsActive)
	return el, err
}

func (r *PGCatalogRepository) GetEventLot(ctx context.Context, eventID, lotID string) (*domain.EventLot, error) {
	el, err := scanEventLot(r.db.QueryRow(ctx, `SELECT event_id, lot_id, price_override_cents, capacity_override, is_active FROM event_lots WHERE event_id=$1 AND lot_id=$2`, eventID, lotID))
	if err != nil {
		return nil, notFound(err, domain.ErrNotOnSale)
	}
	return &el, nil
}

func (r *PGCatalogRepository) ListEventLots(ctx context.Context, eventID string) ([]domain.EventLot, error) {
	rows, err := r.db.Query(ctx, `SELECT event_id, lot_id, price_override_cents, capacity_override, is_active FROM event_lots WHERE event_id=$1 ORDER BY lot_id`, eventID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EventLot, error) { return scanEventLot(row) })
}

var _ CatalogRepository = (*PGCatalogRepository)(nil)
