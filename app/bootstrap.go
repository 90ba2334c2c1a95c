package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"moto-store/internal/auth"
	"moto-store/internal/catalog"
	"moto-store/internal/config"
	"moto-store/internal/db"
	"moto-store/internal/items"
	"moto-store/internal/maintenance"
	"moto-store/internal/media"
	"moto-store/internal/observability"
	"moto-store/internal/orders"
	"moto-store/internal/payments"
	"moto-store/internal/telegram"
	"moto-store/internal/users"
	"moto-store/internal/verification"
)

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Handler http.Handler
	Addr    string
	Logger  *observability.Logger

	bot         *telegram.Bot
	pollUpdates bool
	closers     []func() error
}

var errDeliveryDisabled = errors.New("telegram bot token is not configured")

// disabledSender stands in for the notifier when no bot token is set.
type disabledSender struct{}

func (disabledSender) SendCode(context.Context, int64, string) error {
	return errDeliveryDisabled
}

// runMigrations is swapped in tests.
var runMigrations = db.RunMigrations

func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := prepareDatabase(ctx, cfg, database); err != nil {
		_ = database.Close()
		return nil, err
	}

	runtime, err := assemble(ctx, cfg, database, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	return runtime, nil
}

// prepareDatabase applies pool limits, checks connectivity and migrates the
// schema when RUN_MIGRATIONS_ON_STARTUP is set.
func prepareDatabase(ctx context.Context, cfg *config.Config, database *sql.DB) error {
	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	if err := database.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		if err := runMigrations(ctx, database); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	return nil
}

// assemble wires repositories, services and routes on an open database.
func assemble(ctx context.Context, cfg *config.Config, database *sql.DB, logger *observability.Logger) (*Runtime, error) {
	runtime := &Runtime{
		Addr:        ":" + cfg.Port,
		Logger:      logger,
		pollUpdates: cfg.Telegram.PollUpdates,
	}

	authRepo := auth.NewRepository(database)
	userRepo := users.NewRepository(database)
	catalogRepo := catalog.NewRepository(database)
	itemRepo := items.NewRepository(database)
	orderRepo := orders.NewRepository(database)
	paymentRepo := payments.NewRepository(database)

	tokens, err := auth.NewAuthenticator(cfg.Token.Secret, cfg.Token.Algorithm, cfg.Token.EnforceExpiry)
	if err != nil {
		return nil, fmt.Errorf("init authenticator: %w", err)
	}

	broker := verification.NewBroker(cfg.VerificationTTL)
	runtime.closers = append(runtime.closers, func() error {
		broker.Close()
		return nil
	})

	var sender auth.CodeSender = disabledSender{}
	if cfg.Telegram.BotToken != "" {
		api, err := telegram.NewAPI(cfg.Telegram.BotToken)
		if err != nil {
			broker.Close()
			return nil, err
		}
		notifier := telegram.NewNotifier(api, userRepo, logger, cfg.VerificationTTL)
		sender = notifier
		runtime.bot = telegram.NewBot(api, userRepo, notifier, logger)
	} else {
		logger.Warn("telegram_disabled", map[string]any{"reason": "TELEGRAM_BOT_TOKEN is empty"})
	}

	authService := auth.NewService(authRepo, tokens, broker, sender)
	authService.WithSecurityConfig(cfg.Login.MaxAttempts, cfg.Login.LockDuration, cfg.Token.AccessTTL)
	authService.WithLogger(logger)

	if err := authService.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		broker.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	var (
		photos   orders.PhotoLister
		uploader media.PhotoUploader
	)
	if cfg.StorageEnabled() {
		storage, err := media.NewStorage(ctx, media.StorageConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
			URLTTL:    cfg.Storage.PhotoURLTTL,
		})
		if err != nil {
			broker.Close()
			return nil, fmt.Errorf("init photo storage: %w", err)
		}
		photos, uploader = storage, storage
	} else {
		logger.Warn("photo_storage_disabled", map[string]any{"reason": "MINIO_ENDPOINT or credentials are empty"})
	}

	h := handlers{
		auth:        auth.NewHandler(authService, cfg.Token.CookieName, cfg.Token.CookieSecure),
		users:       users.NewHandler(userRepo, logger),
		catalog:     catalog.NewHandler(catalogRepo),
		items:       items.NewHandler(itemRepo, catalogRepo),
		orders:      orders.NewHandler(orderRepo, userRepo, photos, logger),
		payments:    payments.NewHandler(paymentRepo, userRepo, logger),
		photos:      media.NewUploadHandler(uploader, orderRepo, logger),
		cleanup:     maintenance.NewCleanupHandler(authRepo, broker, logger, cfg.Maintenance.CronSecret, cfg.Maintenance.LoginAttemptRetention, cfg.Maintenance.CleanupBatchSize),
		limiter:     auth.NewLoginRateLimiter(cfg.Login.RateLimitMax, cfg.Login.RateLimitWindow),
		healthCheck: database.PingContext,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, h)

	authenticated := auth.Authenticate(tokens, cfg.Token.CookieName, logger, mux)
	runtime.Handler = observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, authenticated))
	runtime.closers = append(runtime.closers, database.Close)

	return runtime, nil
}

type handlers struct {
	auth        *auth.Handler
	users       *users.Handler
	catalog     *catalog.Handler
	items       *items.Handler
	orders      *orders.Handler
	payments    *payments.Handler
	photos      *media.UploadHandler
	cleanup     *maintenance.CleanupHandler
	limiter     *auth.LoginRateLimiter
	healthCheck func(ctx context.Context) error
}

func registerRoutes(mux *http.ServeMux, h handlers) {
	user := func(fn http.HandlerFunc) http.Handler { return auth.RequireUser(fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return auth.RequireAdmin(fn) }
	limited := func(next http.Handler) http.Handler { return h.limiter.Middleware(next) }

	mux.Handle("POST /auth/token", limited(http.HandlerFunc(h.auth.Login)))
	mux.HandleFunc("POST /auth/logout", h.auth.Logout)
	mux.Handle("GET /auth/read_current_user", user(h.auth.ReadCurrentUser))
	mux.Handle("POST /auth/register", limited(http.HandlerFunc(h.auth.Register)))
	mux.Handle("POST /auth/register/confirm", limited(http.HandlerFunc(h.auth.ConfirmRegistration)))

	mux.Handle("GET /user/profile", user(h.users.Profile))
	mux.Handle("GET /user/my_orders", user(h.orders.MyOrders))
	mux.Handle("GET /user/my_payments", user(h.payments.MyPayments))
	mux.Handle("POST /user/change_password", limited(user(h.auth.ChangePassword)))
	mux.Handle("POST /user/change_password/confirm", limited(user(h.auth.ConfirmPasswordChange)))

	mux.HandleFunc("GET /catalog/{$}", h.catalog.ListManufacturers)
	mux.HandleFunc("GET /catalog/{mark}", h.catalog.GetManufacturer)
	mux.Handle("POST /catalog/create_mark", admin(h.catalog.CreateManufacturer))
	mux.Handle("PATCH /catalog/update_mark", admin(h.catalog.UpdateManufacturer))
	mux.Handle("DELETE /catalog/delete_mark", admin(h.catalog.DeleteManufacturer))
	mux.HandleFunc("GET /catalog/models/all_models", h.catalog.ListModels)
	mux.HandleFunc("GET /catalog/models/in_stock", h.catalog.ListModelsInStock)
	mux.HandleFunc("GET /catalog/{mark}/models", h.catalog.ManufacturerModels)
	mux.HandleFunc("GET /catalog/{mark}/in_stock", h.catalog.ManufacturerModelsInStock)
	mux.HandleFunc("GET /catalog/models/detail/{model}", h.catalog.ModelDetail)
	mux.Handle("POST /catalog/models/create", admin(h.catalog.CreateModel))
	mux.Handle("PATCH /catalog/models/update/{model}", admin(h.catalog.UpdateModel))
	mux.Handle("DELETE /catalog/models/delete", admin(h.catalog.DeleteModel))

	mux.HandleFunc("GET /items/all_items", h.items.ListAll)
	mux.HandleFunc("GET /items/{model}", h.items.ListByModel)
	mux.HandleFunc("GET /items/detail/{id}", h.items.Detail)
	mux.Handle("POST /items/create_item", admin(h.items.Create))
	mux.Handle("PATCH /items/update_item/{id}", admin(h.items.Update))
	mux.Handle("DELETE /items/delete_item/{id}", admin(h.items.Delete))

	mux.Handle("GET /orders/{id}", user(h.orders.Detail))
	mux.Handle("POST /admin/orders", admin(h.orders.Create))
	mux.Handle("PATCH /admin/orders/{id}/paid", admin(h.orders.MarkPaid))
	mux.Handle("POST /admin/orders/{id}/photos", admin(h.photos.Upload))

	mux.Handle("POST /admin/payments", admin(h.payments.Create))
	mux.Handle("PATCH /admin/payments/{uuid}/confirm", admin(h.payments.Confirm))

	mux.Handle("PATCH /admin/update_user_balance", admin(h.users.UpdateBalance))
	mux.Handle("PATCH /admin/update_user_status", admin(h.users.UpdateStatus))
	mux.Handle("GET /admin/get_user", admin(h.users.GetUser))
	mux.Handle("GET /admin/user_orders", admin(h.orders.UserOrders))

	mux.HandleFunc("GET /internal/maintenance/cleanup", h.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", h.cleanup.Handle)
	mux.HandleFunc("GET /health", healthHandler(h.healthCheck))
}

// RunBot long-polls the messaging bot until ctx ends. It returns at once when
// the bot is not configured or polling is off.
func (r *Runtime) RunBot(ctx context.Context) error {
	if r.bot == nil || !r.pollUpdates {
		return nil
	}
	err := r.bot.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	observability.FlushSentry()
	_ = r.Logger.Sync()
	return errors.Join(errs...)
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
