package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadiumpark/parking/internal/domain"
)

// ReservationSearch narrows a gate lookup. Plate must already be normalized
// and Email lower-cased; an empty field does not match anything.
type ReservationSearch struct {
	EventID string
	LotID   string
	Plate   string
	Email   string
	Limit   int
}

type ReservationRepository interface {
	// Insert stores a reservation that did not come from a hold (in-person
	// or comp). It counts against lot capacity like a hold does.
	Insert(ctx context.Context, reservation *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.Reservation, error)
	Search(ctx context.Context, q ReservationSearch) ([]domain.Reservation, error)
	// MarkCheckedIn moves a pending reservation to checked_in. The bool is
	// false, and the stored row is returned untouched, when it was not pending.
	MarkCheckedIn(ctx context.Context, id, agentID string, at time.Time) (*domain.Reservation, bool, error)
	MarkNoShows(ctx context.Context, eventID string) (int64, error)
	// RecordException stores a paid session that needs manual handling. The
	// bool is false when one was already recorded for the session.
	RecordException(ctx context.Context, exc *domain.PaymentException) (bool, error)
	GetExceptionBySession(ctx context.Context, sessionID string) (*domain.PaymentException, error)
}

type PGReservationRepository struct {
	db *pgxpool.Pool
}

func NewReservationRepository(db *pgxpool.Pool) ReservationRepository {
	return &PGReservationRepository{db: db}
}

const reservationColumns = `id, event_id, lot_id, email, phone, license_plate, payment_source, amount_cents,
	COALESCE(session_id, ''), COALESCE(payment_intent_id, ''), paid_at, qr_code, verification_token,
	check_in_status, checked_in_at, checked_in_by, notes, created_at, updated_at`

func scanReservation(row scanner) (domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.EventID, &r.LotID, &r.Email, &r.Phone, &r.LicensePlate, &r.PaymentSource, &r.AmountCents,
		&r.SessionID, &r.PaymentIntentID, &r.PaidAt, &r.QRCode, &r.VerificationToken,
		&r.CheckInStatus, &r.CheckedInAt, &r.CheckedInBy, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func insertReservation(ctx context.Context, tx pgx.Tx, r *domain.Reservation) error {
	if r.CheckInStatus == "" {
		r.CheckInStatus = domain.CheckInPending
	}
	err := tx.QueryRow(ctx, `INSERT INTO reservations (id, event_id, lot_id, email, phone, license_plate, payment_source, amount_cents,
			session_id, payment_intent_id, paid_at, qr_code, verification_token, check_in_status, checked_in_at, checked_in_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`,
		r.ID, r.EventID, r.LotID, r.Email, r.Phone, r.LicensePlate, r.PaymentSource, r.AmountCents,
		r.SessionID, r.PaymentIntentID, r.PaidAt, r.QRCode, r.VerificationToken, r.CheckInStatus, r.CheckedInAt, r.CheckedInBy, r.Notes).
		Scan(&r.CreatedAt, &r.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateExternalSession
	}
	return err
}

func (r *PGReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	set := `reserved_count = reserved_count + $3`
	if res.CheckInStatus == domain.CheckInCheckedIn {
		set += `, checked_in_count = checked_in_count + $3`
	}
	if err := takeCapacity(ctx, tx, res.EventID, res.LotID, set, 1); err != nil {
		return err
	}
	if err := insertReservation(ctx, tx, res); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	if uuid.Validate(id) != nil {
		return nil, domain.ErrReservationNotFound
	}
	res, err := scanReservation(r.db.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrReservationNotFound)
	}
	return &res, nil
}

func (r *PGReservationRepository) GetBySession(ctx context.Context, sessionID string) (*domain.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE session_id=$1`, sessionID))
	if err != nil {
		return nil, notFound(err, domain.ErrReservationNotFound)
	}
	return &res, nil
}

func (r *PGReservationRepository) Search(ctx context.Context, q ReservationSearch) ([]domain.Reservation, error) {
	if q.Plate == "" && q.Email == "" {
		return []domain.Reservation{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE event_id=$1 AND ($2 = '' OR lot_id=$2)
		AND (($3 <> '' AND license_plate LIKE $4) OR ($5 <> '' AND lower(email) LIKE $6))
		ORDER BY created_at
		LIMIT $7`,
		q.EventID, q.LotID, q.Plate, likePattern(q.Plate), q.Email, likePattern(q.Email), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Reservation, error) { return scanReservation(row) })
}

func (r *PGReservationRepository) MarkCheckedIn(ctx context.Context, id, agentID string, at time.Time) (*domain.Reservation, bool, error) {
	if uuid.Validate(id) != nil {
		return nil, false, domain.ErrReservationNotFound
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	res, err := scanReservation(tx.QueryRow(ctx, `UPDATE reservations
		SET check_in_status='checked_in', checked_in_at=$3, checked_in_by=$2, updated_at=now()
		WHERE id=$1 AND check_in_status='pending'
		RETURNING `+reservationColumns, id, agentID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := scanReservation(tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id))
		if err != nil {
			return nil, false, notFound(err, domain.ErrReservationNotFound)
		}
		return &current, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE inventory SET checked_in_count = checked_in_count + 1, updated_at = now()
		WHERE event_id=$1 AND lot_id=$2`, res.EventID, res.LotID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

func (r *PGReservationRepository) MarkNoShows(ctx context.Context, eventID string) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE reservations SET check_in_status='no_show', updated_at=now()
		WHERE event_id=$1 AND check_in_status='pending'`, eventID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *PGReservationRepository) RecordException(ctx context.Context, exc *domain.PaymentException) (bool, error) {
	cmd, err := r.db.Exec(ctx, `INSERT INTO payment_exceptions (id, session_id, hold_id, event_id, lot_id, email, amount_cents, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING`,
		exc.ID, exc.SessionID, exc.HoldID, exc.EventID, exc.LotID, exc.Email, exc.AmountCents, exc.Reason)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PGReservationRepository) GetExceptionBySession(ctx context.Context, sessionID string) (*domain.PaymentException, error) {
	var e domain.PaymentException
	err := r.db.QueryRow(ctx, `SELECT id, session_id, hold_id, event_id, lot_id, email, amount_cents, reason, created_at, resolved_at
		FROM payment_exceptions WHERE session_id=$1`, sessionID).
		Scan(&e.ID, &e.SessionID, &e.HoldID, &e.EventID, &e.LotID, &e.Email, &e.AmountCents, &e.Reason, &e.CreatedAt, &e.ResolvedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrReservationNotFound)
	}
	return &e, nil
}

var _ ReservationRepository = (*PGReservationRepository)(nil)
