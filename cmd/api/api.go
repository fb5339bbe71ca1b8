package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/config"
	"github.com/KAsare1/Fintrack-server/ratelimit"
	"github.com/KAsare1/Fintrack-server/service/budgets"
	"github.com/KAsare1/Fintrack-server/service/cards"
	"github.com/KAsare1/Fintrack-server/service/dashboard"
	"github.com/KAsare1/Fintrack-server/service/goals"
	"github.com/KAsare1/Fintrack-server/service/importexport"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/KAsare1/Fintrack-server/service/investments"
	notification "github.com/KAsare1/Fintrack-server/service/notifications"
	"github.com/KAsare1/Fintrack-server/service/recurring"
	"github.com/KAsare1/Fintrack-server/service/templates"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"github.com/KAsare1/Fintrack-server/service/user"
	"github.com/KAsare1/Fintrack-server/service/ws"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

type APIServer struct {
	address   string
	db        *gorm.DB
	cfg       *config.Config
	cache     *cache.Cache
	store     ratelimit.Store
	hub       *ws.Hub
	pusher    notification.Pusher
	mailer    notification.Mailer
	accessLog io.Writer
}

// NewApiServer wires the server. store holds the rate limit counters (see
// ratelimit.NewStore).
func NewApiServer(cfg *config.Config, db *gorm.DB, store ratelimit.Store) *APIServer {
	return &APIServer{
		address:   ":" + cfg.Port,
		db:        db,
		cfg:       cfg,
		cache:     cache.New(cfg.CacheTTL, time.Minute),
		store:     store,
		hub:       ws.NewHub(),
		mailer:    notification.NewMailer(cfg),
		accessLog: os.Stdout,
	}
}

// Router builds the full handler chain:
// recovery, proxy headers, access log, CORS, rate limit, auth.
func (s *APIServer) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.health).Methods("GET")

	inv := invalidation.New(s.cache, s.hub)
	notifier := notification.NewNotifier(s.db, s.pusher, s.mailer)
	hooks := transactions.Hooks{Inv: inv, Watcher: budgets.NewWatcher(s.db, notifier)}
	tokens := utils.NewTokenIssuer(s.cfg.SecretKey)

	subrouter := router.PathPrefix("/api/v1").Subrouter()
	subrouter.Use(ratelimit.New(s.store, "api", s.cfg.RateLimit, s.cfg.RateLimitWindow).Middleware)

	userHandler := user.NewHandler(s.db, tokens, s.mailer, inv, s.cfg.CookieSecure)

	public := subrouter.NewRoute().Subrouter()
	public.Use(ratelimit.New(s.store, "auth", s.cfg.AuthRateLimit, s.cfg.RateLimitWindow).Middleware)
	userHandler.RegisterPublicRoutes(public)

	protected := subrouter.NewRoute().Subrouter()
	protected.Use(utils.NewAuthenticator(tokens).Middleware)
	for _, h := range []interface{ RegisterRoutes(*mux.Router) }{
		userHandler,
		transactions.NewTransactionHandler(s.db, s.cache, hooks),
		budgets.NewBudgetHandler(s.db, s.cache, inv, hooks.Watcher),
		goals.NewGoalHandler(s.db, inv),
		investments.NewInvestmentHandler(s.db, inv),
		cards.NewCardHandler(s.db, inv, hooks),
		templates.NewTemplateHandler(s.db, inv, hooks),
		recurring.NewRecurringHandler(s.db, inv, hooks),
		importexport.NewImportExportHandler(s.db, hooks),
		dashboard.NewDashboardHandler(s.db, s.cache),
		notification.NewNotificationHandler(s.db),
		ws.NewWebSocketHandler(s.hub, s.cfg.CORSOrigins),
	} {
		h.RegisterRoutes(protected)
	}

	var handler http.Handler = router
	handler = s.cors()(handler)
	handler = handlers.CombinedLoggingHandler(s.accessLog, handler)
	handler = ratelimit.ProxyHeaders(s.cfg.TrustedProxies)(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)(handler)
	return handler
}

func (s *APIServer) cors() func(http.Handler) http.Handler {
	opts := []handlers.CORSOption{
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With"}),
		handlers.ExposedHeaders([]string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "Content-Disposition"}),
		handlers.MaxAge(600),
	}
	if len(s.cfg.CORSOrigins) > 0 {
		opts = append(opts, handlers.AllowedOrigins(s.cfg.CORSOrigins), handlers.AllowCredentials())
	}
	return handlers.CORS(opts...)
}

type healthResponse struct {
	Status   string      `json:"status"`
	Database string      `json:"database"`
	Cache    cache.Stats `json:"cache"`
}

func (s *APIServer) health(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{Status: "ok", Database: "ok", Cache: s.cache.Stats()}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		slog.Warn("health check: database unreachable", "error", err)
		res.Status, res.Database = "degraded", "unreachable"
		code = http.StatusServiceUnavailable
	}
	utils.RespondWithJSON(w, code, res)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	defer s.cache.Close()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server running", "address", s.address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
