package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"moto-store/internal/auth"
	"moto-store/internal/media"
	"moto-store/internal/observability"
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
	orders    []Order
	createErr error
}

func (s *memoryStore) Get(_ context.Context, id int64) (Order, error) {
	for _, o := range s.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return Order{}, sql.ErrNoRows
}

func (s *memoryStore) ListPaid(_ context.Context, tgID int64) ([]Order, error) {
	out := make([]Order, 0)
	for _, o := range s.orders {
		if o.IsPaid && o.TgID != nil && *o.TgID == tgID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memoryStore) Create(_ context.Context, tgID int64, input CreateInput) (Order, error) {
	if s.createErr != nil {
		return Order{}, s.createErr
	}
	archive := "orders/test"
	o := Order{
		ID:           int64(len(s.orders) + 1),
		Timestamp:    time.Now(),
		TgID:         &tgID,
		Quantity:     input.Quantity,
		Model:        input.Model,
		Purchase:     input.Purchase,
		OrderArchive: &archive,
	}
	s.orders = append(s.orders, o)
	return o, nil
}

func (s *memoryStore) MarkPaid(_ context.Context, id int64) (Order, error) {
	for i, o := range s.orders {
		if o.ID == id {
			s.orders[i].IsPaid = true
			return s.orders[i], nil
		}
	}
	return Order{}, sql.ErrNoRows
}

type fakePhotos struct {
	photos   []media.Photo
	err      error
	prefixes []string
}

func (f *fakePhotos) List(_ context.Context, prefix string) ([]media.Photo, error) {
	f.prefixes = append(f.prefixes, prefix)
	return f.photos, f.err
}

func int64Ptr(v int64) *int64    { return &v }
func stringPtr(v string) *string { return &v }

func testLookup() fakeLookup {
	return fakeLookup{
		"alice":  {ID: 7, Username: "alice", TgID: int64Ptr(555001)},
		"bob":    {ID: 8, Username: "bob", TgID: int64Ptr(555002)},
		"nochat": {ID: 9, Username: "nochat"},
	}
}

func newTestMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", h.Detail)
	mux.HandleFunc("GET /user/my_orders", h.MyOrders)
	mux.HandleFunc("GET /admin/user_orders", h.UserOrders)
	mux.HandleFunc("POST /admin/orders", h.Create)
	mux.HandleFunc("PATCH /admin/orders/{id}/paid", h.MarkPaid)
	return mux
}

func serveAs(mux http.Handler, identity *auth.Identity, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *identity))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

var (
	alice = &auth.Identity{Username: "alice", ID: 7}
	bob   = &auth.Identity{Username: "bob", ID: 8}
)

func TestHandler_DetailOwnerOnly(t *testing.T) {
	store := &memoryStore{orders: []Order{
		{ID: 1, TgID: int64Ptr(555001), Model: "MT-07", OrderArchive: stringPtr("orders/a")},
	}}
	photos := &fakePhotos{photos: []media.Photo{{Key: "orders/a/1.jpg", URL: "https://s3.local/orders/a/1.jpg"}}}
	mux := newTestMux(NewHandler(store, testLookup(), photos, nil))

	rec := serveAs(mux, alice, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "MT-07", got.Model)
	require.Len(t, got.Photos, 1)
	assert.Equal(t, []string{"orders/a"}, photos.prefixes)

	rec = serveAs(mux, bob, http.MethodGet, "/orders/1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"This is not your order!"}`, rec.Body.String())

	rec = serveAs(mux, alice, http.MethodGet, "/orders/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveAs(mux, alice, http.MethodGet, "/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveAs(mux, nil, http.MethodGet, "/orders/1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_DetailPhotoFailureIsSoft(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := observability.NewLoggerFromZap(zap.New(core))

	store := &memoryStore{orders: []Order{
		{ID: 1, TgID: int64Ptr(555001), Model: "MT-07", OrderArchive: stringPtr("orders/a")},
	}}
	photos := &fakePhotos{err: errors.New("storage down")}
	mux := newTestMux(NewHandler(store, testLookup(), photos, logger))

	rec := serveAs(mux, alice, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "photos")
	assert.Equal(t, 1, logs.FilterMessage("order_photos_unavailable").Len())
}

func TestHandler_DetailWithoutStorage(t *testing.T) {
	store := &memoryStore{orders: []Order{{ID: 1, TgID: int64Ptr(555001), OrderArchive: stringPtr("orders/a")}}}
	mux := newTestMux(NewHandler(store, testLookup(), nil, nil))

	rec := serveAs(mux, alice, http.MethodGet, "/orders/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MyOrdersPaidOnly(t *testing.T) {
	store := &memoryStore{orders: []Order{
		{ID: 1, TgID: int64Ptr(555001), IsPaid: true},
		{ID: 2, TgID: int64Ptr(555001)},
		{ID: 3, TgID: int64Ptr(555002), IsPaid: true},
	}}
	mux := newTestMux(NewHandler(store, testLookup(), nil, nil))

	rec := serveAs(mux, alice, http.MethodGet, "/user/my_orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)

	rec = serveAs(mux, &auth.Identity{Username: "nochat", ID: 9}, http.MethodGet, "/user/my_orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_UserOrders(t *testing.T) {
	store := &memoryStore{orders: []Order{{ID: 3, TgID: int64Ptr(555002), IsPaid: true}}}
	mux := newTestMux(NewHandler(store, testLookup(), nil, nil))

	rec := serveAs(mux, nil, http.MethodGet, "/admin/user_orders?username=Bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":3`)

	rec = serveAs(mux, nil, http.MethodGet, "/admin/user_orders?username=ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveAs(mux, nil, http.MethodGet, "/admin/user_orders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateAndMarkPaid(t *testing.T) {
	store := &memoryStore{}
	mux := newTestMux(NewHandler(store, testLookup(), nil, nil))

	rec := serveAs(mux, nil, http.MethodPost, "/admin/orders", `{"username":"alice","quantity":1,"model":"MT-07","purchase":7200}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, store.orders, 1)
	assert.Equal(t, int64(555001), *store.orders[0].TgID)
	assert.False(t, store.orders[0].IsPaid)

	rec = serveAs(mux, nil, http.MethodPatch, "/admin/orders/1/paid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.orders[0].IsPaid)

	rec = serveAs(mux, nil, http.MethodPatch, "/admin/orders/77/paid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CreateRejects(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{"username":`, http.StatusBadRequest},
		{"unknown field", `{"username":"alice","model":"x","extra":1}`, http.StatusBadRequest},
		{"no model", `{"username":"alice","quantity":1}`, http.StatusBadRequest},
		{"negative quantity", `{"username":"alice","model":"x","quantity":-1}`, http.StatusBadRequest},
		{"negative purchase", `{"username":"alice","model":"x","purchase":-5}`, http.StatusBadRequest},
		{"negative cc", `{"username":"alice","model":"x","cc":-600}`, http.StatusBadRequest},
		{"unknown user", `{"username":"ghost","model":"x"}`, http.StatusNotFound},
		{"no chat", `{"username":"nochat","model":"x"}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memoryStore{}
			mux := newTestMux(NewHandler(store, testLookup(), nil, nil))
			rec := serveAs(mux, nil, http.MethodPost, "/admin/orders", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Empty(t, store.orders)
		})
	}
}

func TestHandler_CreateUnknownModel(t *testing.T) {
	store := &memoryStore{createErr: ErrUnknownReference}
	mux := newTestMux(NewHandler(store, testLookup(), nil, nil))

	rec := serveAs(mux, nil, http.MethodPost, "/admin/orders", `{"username":"alice","model":"Nope"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
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

var orderCols = []string{"id", "timestamp", "tg_id", "quantity", "model", "cc", "horsepower", "age", "purchase", "is_paid", "order_archive"}

func TestRepository_ListPaid(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ts := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)FROM orders\s+WHERE tg_id = \$1 AND is_paid`).
		WithArgs(int64(555001)).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(2, ts, 555001, 1, "MT-07", 689, 73, "new", 7200.0, true, "orders/a").
			AddRow(1, ts, 555001, 2, nil, nil, nil, nil, 0.0, true, nil))

	got, err := repo.ListPaid(context.Background(), 555001)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "MT-07", got[0].Model)
	require.NotNil(t, got[0].CC)
	assert.Equal(t, 689, *got[0].CC)
	assert.Equal(t, "", got[1].Model)
	assert.Nil(t, got[1].OrderArchive)
}

func TestRepository_CreateAssignsArchive(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)INSERT INTO orders .* RETURNING id`).
		WithArgs(sqlmock.AnyArg(), int64(555001), int64(1), "MT-07", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 7200.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	o, err := repo.Create(context.Background(), 555001, CreateInput{Quantity: 1, Model: "MT-07", Purchase: 7200})
	require.NoError(t, err)
	assert.Equal(t, int64(5), o.ID)
	require.NotNil(t, o.OrderArchive)
	assert.True(t, strings.HasPrefix(*o.OrderArchive, "orders/"))
}

func TestRepository_CreateForeignKey(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := repo.Create(context.Background(), 555001, CreateInput{Model: "Nope"})
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestRepository_MarkPaidMissing(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`UPDATE orders SET is_paid = TRUE`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := repo.MarkPaid(context.Background(), 9)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRepository_ArchivePrefix(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)UPDATE orders\s+SET order_archive = COALESCE`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"order_archive"}).AddRow("orders/3"))

	prefix, err := repo.ArchivePrefix(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "orders/3", prefix)
}
