package catalog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewRepository(db), mock
}

func TestRepository_ListModelsInStockForManufacturer(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM catalog\s+WHERE \(\$1 = '' OR manufacturer = \$1\) AND \(NOT \$2 OR quantity > 0\)`).
		WithArgs("Ducati", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "manufacturer", "type", "model", "quantity", "sort_type"}).
			AddRow(1, "Ducati", "naked", "Monster", 2, nil))

	models, err := repo.ListModels(context.Background(), "Ducati", true)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "Monster", models[0].Model)
	require.NotNil(t, models[0].Type)
	assert.Equal(t, "naked", *models[0].Type)
	assert.Nil(t, models[0].SortType)
}

func TestRepository_CreateManufacturerDuplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO manufacturer`).
		WithArgs("Ducati", nil).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "manufacturer_name_key"})

	_, err := repo.CreateManufacturer(context.Background(), ManufacturerInput{Name: "Ducati"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRepository_CreateModelUnknownManufacturer(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO catalog`).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := repo.CreateModel(context.Background(), ModelInput{Manufacturer: "Honda", Model: "CBR"})
	assert.ErrorIs(t, err, ErrManufacturerNotFound)
}

func TestRepository_DeleteModelMissing(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM catalog WHERE model = \$1`).
		WithArgs("Ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.DeleteModel(context.Background(), "Ghost"), sql.ErrNoRows)
}
