package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"moto-store/internal/db"
)

const orderColumns = `id, timestamp, tg_id, quantity, model, cc, horsepower, age, purchase, is_paid, order_archive`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	var model sql.NullString
	err := row.Scan(&o.ID, &o.Timestamp, &o.TgID, &o.Quantity, &model, &o.CC, &o.Horsepower, &o.Age, &o.Purchase, &o.IsPaid, &o.OrderArchive)
	o.Model = model.String
	return o, err
}

func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// ListPaid returns the paid orders placed from the given messaging account.
func (r *Repository) ListPaid(ctx context.Context, tgID int64) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE tg_id = $1 AND is_paid
		ORDER BY timestamp DESC
	`, tgID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return orders, nil
}

// Create inserts an unpaid order and assigns its photo archive prefix.
func (r *Repository) Create(ctx context.Context, tgID int64, input CreateInput) (Order, error) {
	archiveID, err := uuid.NewV7()
	if err != nil {
		return Order{}, fmt.Errorf("generate archive id: %w", err)
	}
	archive := "orders/" + archiveID.String()

	o := Order{
		Timestamp:    time.Now().UTC(),
		TgID:         &tgID,
		Quantity:     input.Quantity,
		Model:        input.Model,
		CC:           input.CC,
		Horsepower:   input.Horsepower,
		Age:          input.Age,
		Purchase:     input.Purchase,
		OrderArchive: &archive,
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO orders (timestamp, tg_id, quantity, model, cc, horsepower, age, purchase, is_paid, order_archive)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		RETURNING id
	`, o.Timestamp, tgID, o.Quantity, o.Model, o.CC, o.Horsepower, o.Age, o.Purchase, archive).Scan(&o.ID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Order{}, ErrUnknownReference
		}
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	return o, nil
}

func (r *Repository) MarkPaid(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		UPDATE orders SET is_paid = TRUE
		WHERE id = $1
		RETURNING `+orderColumns, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("mark order paid: %w", err)
	}
	return o, nil
}

// ArchivePrefix returns the photo prefix of an order, assigning one to
// orders created before archives were tracked.
func (r *Repository) ArchivePrefix(ctx context.Context, orderID int64) (string, error) {
	var archive string
	err := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET order_archive = COALESCE(NULLIF(order_archive, ''), 'orders/' || id::text)
		WHERE id = $1
		RETURNING order_archive
	`, orderID).Scan(&archive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("resolve order archive: %w", err)
	}
	return archive, nil
}
