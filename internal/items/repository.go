package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moto-store/internal/db"
)

const itemColumns = `id, model, cc, horsepower, age, price, "row"`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns all items, or only those of model when it is not empty.
func (r *Repository) List(ctx context.Context, model string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE $1 = '' OR model = $1
		ORDER BY id
	`, model)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Model, &it.CC, &it.Horsepower, &it.Age, &it.Price, &it.Row); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Model, &it.CC, &it.Horsepower, &it.Age, &it.Price, &it.Row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, err
		}
		return Item{}, fmt.Errorf("query item: %w", err)
	}
	return it, nil
}

func (r *Repository) Create(ctx context.Context, input Input) (Item, error) {
	it := Item{
		Model:      input.Model,
		CC:         input.CC,
		Horsepower: input.Horsepower,
		Age:        input.Age,
		Price:      input.Price,
		Row:        input.Row,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO items (model, cc, horsepower, age, price, "row")
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, input.Model, input.CC, input.Horsepower, input.Age, input.Price, input.Row).Scan(&it.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Item{}, ErrDuplicateRow
		}
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

func (r *Repository) Update(ctx context.Context, id int64, input Input) (Item, error) {
	var it Item
	err := r.db.QueryRowContext(ctx, `
		UPDATE items
		SET model = $2, cc = $3, horsepower = $4, age = $5, price = $6, "row" = $7
		WHERE id = $1
		RETURNING `+itemColumns,
		id, input.Model, input.CC, input.Horsepower, input.Age, input.Price, input.Row,
	).Scan(&it.ID, &it.Model, &it.CC, &it.Horsepower, &it.Age, &it.Price, &it.Row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, err
		}
		if db.IsUniqueViolation(err, "") {
			return Item{}, ErrDuplicateRow
		}
		return Item{}, fmt.Errorf("update item: %w", err)
	}
	return it, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
