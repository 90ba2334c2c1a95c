package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moto-store/internal/db"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListManufacturers(ctx context.Context) ([]Manufacturer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, country FROM manufacturer ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query manufacturers: %w", err)
	}
	defer rows.Close()

	marks := make([]Manufacturer, 0)
	for rows.Next() {
		var m Manufacturer
		if err := rows.Scan(&m.ID, &m.Name, &m.Country); err != nil {
			return nil, fmt.Errorf("scan manufacturer: %w", err)
		}
		marks = append(marks, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manufacturers: %w", err)
	}

	return marks, nil
}

func (r *Repository) GetManufacturer(ctx context.Context, name string) (Manufacturer, error) {
	var m Manufacturer
	err := r.db.QueryRowContext(ctx, `SELECT id, name, country FROM manufacturer WHERE name = $1`, name).
		Scan(&m.ID, &m.Name, &m.Country)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Manufacturer{}, err
		}
		return Manufacturer{}, fmt.Errorf("query manufacturer: %w", err)
	}
	return m, nil
}

func (r *Repository) CreateManufacturer(ctx context.Context, input ManufacturerInput) (Manufacturer, error) {
	m := Manufacturer{Name: input.Name, Country: input.Country}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO manufacturer (name, country) VALUES ($1, $2) RETURNING id
	`, input.Name, input.Country).Scan(&m.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Manufacturer{}, ErrDuplicate
		}
		return Manufacturer{}, fmt.Errorf("insert manufacturer: %w", err)
	}
	return m, nil
}

// UpdateManufacturer renames or relocates a manufacturer. Models follow the
// rename through ON UPDATE CASCADE.
func (r *Repository) UpdateManufacturer(ctx context.Context, name string, input ManufacturerInput) (Manufacturer, error) {
	var m Manufacturer
	err := r.db.QueryRowContext(ctx, `
		UPDATE manufacturer SET name = $2, country = $3
		WHERE name = $1
		RETURNING id, name, country
	`, name, input.Name, input.Country).Scan(&m.ID, &m.Name, &m.Country)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Manufacturer{}, err
		}
		if db.IsUniqueViolation(err, "") {
			return Manufacturer{}, ErrDuplicate
		}
		return Manufacturer{}, fmt.Errorf("update manufacturer: %w", err)
	}
	return m, nil
}

func (r *Repository) DeleteManufacturer(ctx context.Context, name string) error {
	return execOne(ctx, r.db, "delete manufacturer", `DELETE FROM manufacturer WHERE name = $1`, name)
}

const modelColumns = `id, manufacturer, type, model, quantity, sort_type`

// ListModels returns catalog models, optionally narrowed to one manufacturer
// and to models with stock.
func (r *Repository) ListModels(ctx context.Context, manufacturer string, inStock bool) ([]Model, error) {
	query := `SELECT ` + modelColumns + ` FROM catalog
		WHERE ($1 = '' OR manufacturer = $1) AND (NOT $2 OR quantity > 0)
		ORDER BY manufacturer, model`

	rows, err := r.db.QueryContext(ctx, query, manufacturer, inStock)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	models := make([]Model, 0)
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Manufacturer, &m.Type, &m.Model, &m.Quantity, &m.SortType); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}

	return models, nil
}

func (r *Repository) GetModel(ctx context.Context, model string) (Model, error) {
	var m Model
	err := r.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM catalog WHERE model = $1`, model).
		Scan(&m.ID, &m.Manufacturer, &m.Type, &m.Model, &m.Quantity, &m.SortType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Model{}, err
		}
		return Model{}, fmt.Errorf("query model: %w", err)
	}
	return m, nil
}

func (r *Repository) CreateModel(ctx context.Context, input ModelInput) (Model, error) {
	m := Model{
		Manufacturer: input.Manufacturer,
		Type:         input.Type,
		Model:        input.Model,
		Quantity:     input.Quantity,
		SortType:     input.SortType,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO catalog (manufacturer, type, model, quantity, sort_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, input.Manufacturer, input.Type, input.Model, input.Quantity, input.SortType).Scan(&m.ID)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, ""):
			return Model{}, ErrDuplicate
		case db.IsForeignKeyViolation(err):
			return Model{}, ErrManufacturerNotFound
		}
		return Model{}, fmt.Errorf("insert model: %w", err)
	}
	return m, nil
}

func (r *Repository) UpdateModel(ctx context.Context, model string, input ModelInput) (Model, error) {
	var m Model
	err := r.db.QueryRowContext(ctx, `
		UPDATE catalog
		SET manufacturer = $2, type = $3, model = $4, quantity = $5, sort_type = $6
		WHERE model = $1
		RETURNING `+modelColumns,
		model, input.Manufacturer, input.Type, input.Model, input.Quantity, input.SortType,
	).Scan(&m.ID, &m.Manufacturer, &m.Type, &m.Model, &m.Quantity, &m.SortType)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return Model{}, err
		case db.IsUniqueViolation(err, ""):
			return Model{}, ErrDuplicate
		case db.IsForeignKeyViolation(err):
			return Model{}, ErrManufacturerNotFound
		}
		return Model{}, fmt.Errorf("update model: %w", err)
	}
	return m, nil
}

func (r *Repository) DeleteModel(ctx context.Context, model string) error {
	return execOne(ctx, r.db, "delete model", `DELETE FROM catalog WHERE model = $1`, model)
}

func execOne(ctx context.Context, database *sql.DB, op, query string, args ...any) error {
	res, err := database.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
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
