package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const paymentColumns = `id, timestamp, tg_id, amount, uuid, confirmed`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListConfirmed(ctx context.Context, tgID int64) ([]Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payment
		WHERE tg_id = $1 AND confirmed
		ORDER BY timestamp DESC
	`, tgID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	payments := make([]Payment, 0)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.TgID, &p.Amount, &p.UUID, &p.Confirmed); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, nil
}

// Create records an unconfirmed payment under a fresh public uuid.
func (r *Repository) Create(ctx context.Context, tgID int64, amount float64) (Payment, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Payment{}, fmt.Errorf("generate payment uuid: %w", err)
	}

	p := Payment{
		Timestamp: time.Now().UTC(),
		TgID:      tgID,
		Amount:    amount,
		UUID:      id.String(),
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO payment (timestamp, tg_id, amount, uuid, confirmed)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id
	`, p.Timestamp, p.TgID, p.Amount, p.UUID).Scan(&p.ID)
	if err != nil {
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}

	return p, nil
}

// Confirm marks the payment confirmed and credits its amount to the payer's
// balance in one transaction. A payment is credited at most once.
func (r *Repository) Confirm(ctx context.Context, paymentUUID string) (Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Payment{}, fmt.Errorf("begin confirm payment tx: %w", err)
	}
	defer tx.Rollback()

	var p Payment
	err = tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payment
		WHERE uuid = $1
		FOR UPDATE
	`, paymentUUID).Scan(&p.ID, &p.Timestamp, &p.TgID, &p.Amount, &p.UUID, &p.Confirmed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, err
		}
		return Payment{}, fmt.Errorf("lock payment: %w", err)
	}
	if p.Confirmed {
		return Payment{}, ErrAlreadyConfirmed
	}

	if _, err := tx.ExecContext(ctx, `UPDATE payment SET confirmed = TRUE WHERE id = $1`, p.ID); err != nil {
		return Payment{}, fmt.Errorf("confirm payment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + $2 WHERE tg_id = $1`, p.TgID, p.Amount); err != nil {
		return Payment{}, fmt.Errorf("credit balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Payment{}, fmt.Errorf("commit confirm payment tx: %w", err)
	}

	p.Confirmed = true
	return p, nil
}
