package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moto-store/internal/db"
)

const profileColumns = `id, username, tg_id, reg_date, language, balance, is_admin, active, block_bot, source, hashed_password IS NOT NULL`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("query user by id: %w", err)
	}
	return p, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("query user by username: %w", err)
	}
	return p, nil
}

// UpsertFromBot creates the user for a messaging account or refreshes the
// language of an existing one. The bool is true when a row was inserted.
func (r *Repository) UpsertFromBot(ctx context.Context, signup BotSignup) (Profile, bool, error) {
	var inserted bool
	var p Profile
	var tgID sql.NullInt64
	var source sql.NullString
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (tg_id, username, language, source)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (tg_id)
		DO UPDATE SET language = EXCLUDED.language, block_bot = FALSE
		RETURNING `+profileColumns+`, (xmax = 0)
	`, signup.TgID, signup.Username, signup.Language, signup.Source).Scan(
		&p.ID, &p.Username, &tgID, &p.RegDate, &p.Language, &p.Balance,
		&p.IsAdmin, &p.Active, &p.BlockBot, &source, &p.HasPassword, &inserted,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "users_username_key") {
			return Profile{}, false, ErrUsernameTaken
		}
		return Profile{}, false, fmt.Errorf("upsert bot user: %w", err)
	}
	fillNullable(&p, tgID, source)
	return p, inserted, nil
}

func (r *Repository) MarkBlocked(ctx context.Context, tgID int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET block_bot = TRUE WHERE tg_id = $1`, tgID); err != nil {
		return fmt.Errorf("mark bot blocked: %w", err)
	}
	return nil
}

// AdjustBalance adds amount (which may be negative) to the user's balance.
func (r *Repository) AdjustBalance(ctx context.Context, username string, amount float64) (Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, `
		UPDATE users SET balance = balance + $2
		WHERE username = $1 AND balance + $2 >= 0
		RETURNING `+profileColumns, username, amount))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("update balance: %w", err)
	}

	if _, lookupErr := r.GetByUsername(ctx, username); lookupErr != nil {
		return Profile{}, lookupErr
	}
	return Profile{}, ErrNegativeBalance
}

func (r *Repository) ToggleActive(ctx context.Context, username string) (Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, `
		UPDATE users SET active = NOT active
		WHERE username = $1
		RETURNING `+profileColumns, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("toggle user status: %w", err)
	}
	return p, nil
}

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	var tgID sql.NullInt64
	var source sql.NullString
	var username sql.NullString
	if err := row.Scan(
		&p.ID, &username, &tgID, &p.RegDate, &p.Language, &p.Balance,
		&p.IsAdmin, &p.Active, &p.BlockBot, &source, &p.HasPassword,
	); err != nil {
		return Profile{}, err
	}
	p.Username = username.String
	fillNullable(&p, tgID, source)
	return p, nil
}

func fillNullable(p *Profile, tgID sql.NullInt64, source sql.NullString) {
	if tgID.Valid {
		v := tgID.Int64
		p.TgID = &v
	}
	if source.Valid {
		v := source.String
		p.Source = &v
	}
}
