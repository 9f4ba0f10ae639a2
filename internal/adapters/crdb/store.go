package crdb

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

const (
	eventColumns   = `id, title, description, date, location, image_url, price, category, capacity, available_tickets, created_by, created_at, updated_at`
	bookingColumns = `id, event_id, user_id, quantity, total_price, status, booking_date, cancelled_at`
	userColumns    = `id, name, email, password_hash, role, created_at`
)

// Store runs every ticket counter change inside a SERIALIZABLE transaction.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return mapErr(err)
	}

	if err := fn(tx); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func (s *Store) CreateEvent(ctx context.Context, e domain.Event) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, eventArgs(e)...)
	return mapErr(err)
}

func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	return e, mapErr(err)
}

func (s *Store) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if f.Category != "" {
		query += ` WHERE category = $1`
		args = append(args, string(f.Category))
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY date ASC`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// ReplaceEvent is a compare-and-swap on the (capacity, available_tickets) pair.
func (s *Store) ReplaceEvent(ctx context.Context, prev, next domain.Event) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := tx.Exec(ctx, `
			UPDATE events SET title = $4, description = $5, date = $6, location = $7, image_url = $8,
				price = $9, category = $10, capacity = $11, available_tickets = $12, updated_at = $13
			WHERE id = $1 AND capacity = $2 AND available_tickets = $3
		`, prev.ID, prev.Capacity, prev.AvailableTickets,
			next.Title, next.Description, next.Date, next.Location, next.ImageURL,
			next.Price, string(next.Category), next.Capacity, next.AvailableTickets, next.UpdatedAt)
		if err != nil {
			return err
		}
		if res.RowsAffected() == 0 {
			if err := exists(ctx, tx, "events", prev.ID); err != nil {
				return err
			}
			return domain.Errorf(domain.ErrConcurrencyConflict, "event %s changed", prev.ID)
		}
		return nil
	})
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1 AND available_tickets = capacity`, id)
		if err != nil {
			return err
		}
		if res.RowsAffected() == 0 {
			if err := exists(ctx, tx, "events", id); err != nil {
				return err
			}
			return domain.Errorf(domain.ErrInvalidState, "event %s has tickets sold", id)
		}
		return nil
	})
}

// ReserveTickets debits the counter with a floor guard and records the
// booking in the same transaction.
func (s *Store) ReserveTickets(ctx context.Context, b domain.Booking) (domain.Event, error) {
	var updated domain.Event
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		e, err := scanEvent(tx.QueryRow(ctx, `
			UPDATE events SET available_tickets = available_tickets - $2
			WHERE id = $1 AND available_tickets >= $2
			RETURNING `+eventColumns, b.EventID, b.Quantity))
		if errors.Is(err, pgx.ErrNoRows) {
			if err := exists(ctx, tx, "events", b.EventID); err != nil {
				return err
			}
			return domain.Errorf(domain.ErrInsufficientCapacity, "event %s: %d requested", b.EventID, b.Quantity)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO bookings (`+bookingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, bookingArgs(b)...); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}
	return updated, nil
}

// CancelBooking flips confirmed to cancelled and credits the event in one
// transaction. The credit is bounded by capacity.
func (s *Store) CancelBooking(ctx context.Context, id string, at time.Time) (domain.Booking, error) {
	var cancelled domain.Booking
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, `
			UPDATE bookings SET status = $2, cancelled_at = $3
			WHERE id = $1 AND status = $4
			RETURNING `+bookingColumns,
			id, string(domain.BookingCancelled), at, string(domain.BookingConfirmed)))
		if errors.Is(err, pgx.ErrNoRows) {
			if err := exists(ctx, tx, "bookings", id); err != nil {
				return err
			}
			return domain.Errorf(domain.ErrInvalidState, "booking %s is not confirmed", id)
		}
		if err != nil {
			return err
		}

		res, err := tx.Exec(ctx, `
			UPDATE events SET available_tickets = available_tickets + $2
			WHERE id = $1 AND available_tickets + $2 <= capacity
		`, b.EventID, b.Quantity)
		if err != nil {
			return err
		}
		if res.RowsAffected() == 0 {
			var found bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, b.EventID).Scan(&found); err != nil {
				return err
			}
			if found {
				return domain.Errorf(domain.ErrInvalidState, "event %s would exceed capacity", b.EventID)
			}
		}
		cancelled = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return cancelled, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	return b, mapErr(err)
}

func (s *Store) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		args = append(args, val)
		conds = append(conds, col+" = $"+strconv.Itoa(len(args)))
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.EventID != "" {
		add("event_id", f.EventID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	rows, err := s.pool.Query(ctx, query+` ORDER BY booking_date DESC`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) ConfirmedQuantity(ctx context.Context, eventID string) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::INT8 FROM bookings WHERE event_id = $1 AND status = $2
	`, eventID, string(domain.BookingConfirmed)).Scan(&total)
	return total, mapErr(err)
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "user %s", u.Email)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, mapErr(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	return u, mapErr(err)
}

func exists(ctx context.Context, tx pgx.Tx, table, id string) error {
	var found bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&found); err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func eventArgs(e domain.Event) []any {
	return []any{e.ID, e.Title, e.Description, e.Date, e.Location, e.ImageURL, e.Price,
		string(e.Category), e.Capacity, e.AvailableTickets, e.CreatedBy, e.CreatedAt, e.UpdatedAt}
}

func bookingArgs(b domain.Booking) []any {
	return []any{b.ID, b.EventID, b.UserID, b.Quantity, b.TotalPrice, string(b.Status), b.BookingDate, b.CancelledAt}
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		e        domain.Event
		category string
	)
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.ImageURL, &e.Price,
		&category, &e.Capacity, &e.AvailableTickets, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	e.Category = domain.Category(category)
	e.Date, e.CreatedAt, e.UpdatedAt = e.Date.UTC(), e.CreatedAt.UTC(), e.UpdatedAt.UTC()
	return e, err
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var (
		b      domain.Booking
		status string
	)
	err := row.Scan(&b.ID, &b.EventID, &b.UserID, &b.Quantity, &b.TotalPrice, &status, &b.BookingDate, &b.CancelledAt)
	b.Status = domain.BookingStatus(status)
	b.BookingDate = b.BookingDate.UTC()
	if b.CancelledAt != nil {
		at := b.CancelledAt.UTC()
		b.CancelledAt = &at
	}
	return b, err
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	u.Role = domain.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, err
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case domain.KindOf(err) != domain.KindInternal:
		return err
	case errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode:
		return errors.Mark(errors.WithStack(err), domain.ErrConcurrencyConflict)
	case errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode:
		return errors.Mark(errors.WithStack(err), domain.ErrAlreadyExists)
	}
	return errors.WithStack(err)
}
