package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moto-store/internal/auth"
	"moto-store/internal/users"
)

type fakeLookup map[string]users.Profile

func (f fakeLookup) GetByID(_ context.Context, id int64) (users.Profile, error) {
	for _, p := range f {
		if p.ID == id {
			return p, nil
		}
	}
	return users.Profile{}, sql.ErrNoRows
}

func (f fakeLookup) GetByUsername(_ context.Context, username string) (users.Profile, error) {
	p, ok := f[username]
	if !ok {
		return users.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

type memoryStore struct {
	payments []Payment
}

func (s *memoryStore) ListConfirmed(_ context.Context, tgID int64) ([]Payment, error) {
	out := make([]Payment, 0)
	for _, p := range s.payments {
		if p.TgID == tgID && p.Confirmed {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) Create(_ context.Context, tgID int64, amount float64) (Payment, error) {
	p := Payment{ID: int64(len(s.payments) + 1), TgID: tgID, Amount: amount, UUID: uuid.NewString(), Timestamp: time.Now()}
	s.payments = append(s.payments, p)
	return p, nil
}

func (s *memoryStore) Confirm(_ context.Context, paymentUUID string) (Payment, error) {
	for i, p := range s.payments {
		if p.UUID != paymentUUID {
			continue
		}
		if p.Confirmed {
			return Payment{}, ErrAlreadyConfirmed
		}
		s.payments[i].Confirmed = true
		return s.payments[i], nil
	}
	return Payment{}, sql.ErrNoRows
}

func int64Ptr(v int64) *int64 { return &v }

func newTestHandler() (*Handler, *memoryStore) {
	store := &memoryStore{}
	lookup := fakeLookup{
		"alice":  {ID: 7, Username: "alice", TgID: int64Ptr(555001)},
		"nochat": {ID: 8, Username: "nochat"},
	}
	return NewHandler(store, lookup, nil), store
}

func TestHandler_CreateAndConfirm(t *testing.T) {
	h, store := newTestHandler()

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/admin/payments", strings.NewReader(`{"username":"Alice","amount":250}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(555001), created.TgID)
	assert.False(t, created.Confirmed)

	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /admin/payments/{uuid}/confirm", h.Confirm)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/admin/payments/"+created.UUID+"/confirm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.payments[0].Confirmed)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/admin/payments/"+created.UUID+"/confirm", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/admin/payments/"+uuid.NewString()+"/confirm", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/admin/payments/not-a-uuid/confirm", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateRejects(t *testing.T) {
	h, store := newTestHandler()

	cases := []struct {
		body   string
		status int
	}{
		{`{"username":"alice","amount":0}`, http.StatusBadRequest},
		{`{"username":"alice","amount":-3}`, http.StatusBadRequest},
		{`{"amount":3}`, http.StatusBadRequest},
		{`{"username":"ghost","amount":3}`, http.StatusNotFound},
		{`{"username":"nochat","amount":3}`, http.StatusConflict},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.Create(rec, httptest.NewRequest(http.MethodPost, "/admin/payments", strings.NewReader(tc.body)))
		assert.Equal(t, tc.status, rec.Code, tc.body)
	}
	assert.Empty(t, store.payments)
}

func TestHandler_MyPaymentsConfirmedOnly(t *testing.T) {
	h, store := newTestHandler()
	store.payments = []Payment{
		{ID: 1, TgID: 555001, Amount: 10, UUID: "a", Confirmed: true},
		{ID: 2, TgID: 555001, Amount: 20, UUID: "b"},
		{ID: 3, TgID: 999, Amount: 30, UUID: "c", Confirmed: true},
	}

	req := httptest.NewRequest(http.MethodGet, "/user/my_payments", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Username: "alice", ID: 7}))
	rec := httptest.NewRecorder()
	h.MyPayments(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].UUID)

	req = httptest.NewRequest(http.MethodGet, "/user/my_payments", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Username: "nochat", ID: 8}))
	rec = httptest.NewRecorder()
	h.MyPayments(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

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

var paymentCols = []string{"id", "timestamp", "tg_id", "amount", "uuid", "confirmed"}

func TestRepository_ConfirmCreditsBalance(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)FROM payment\s+WHERE uuid = \$1\s+FOR UPDATE`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(paymentCols).AddRow(4, ts, 555001, 250.0, "p-1", false))
	mock.ExpectExec(`UPDATE payment SET confirmed = TRUE WHERE id = \$1`).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET balance = balance \+ \$2 WHERE tg_id = \$1`).
		WithArgs(int64(555001), 250.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := repo.Confirm(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, p.Confirmed)
}

func TestRepository_ConfirmTwice(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM payment`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(paymentCols).AddRow(4, time.Now(), 555001, 250.0, "p-1", true))
	mock.ExpectRollback()

	_, err := repo.Confirm(context.Background(), "p-1")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)INSERT INTO payment \(timestamp, tg_id, amount, uuid, confirmed\)`).
		WithArgs(sqlmock.AnyArg(), int64(555001), 99.5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	p, err := repo.Create(context.Background(), 555001, 99.5)
	require.NoError(t, err)
	assert.Equal(t, int64(11), p.ID)
	_, err = uuid.Parse(p.UUID)
	assert.NoError(t, err)
}
