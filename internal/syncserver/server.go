package syncserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Run boots the sync HTTP server on top of book.
func Run(ctx context.Context, cfg Config, book Book) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	signer, err := offline.SignerForKey(cfg.SignerKey)
	if err != nil {
		return err
	}
	ledger, err := NewLedger(book, signer, cfg.OpeningBalance, time.Now)
	if err != nil {
		return err
	}
	authority, err := NewTokenAuthority(cfg.TokenSigningKey, cfg.TokenIssuer, cfg.TokenTTL, time.Now)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: NewRouter(cfg, ledger, authority, NewMetrics(), logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletsync listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires the HTTP routes.
func NewRouter(cfg Config, ledger *Ledger, authority *TokenAuthority, metrics *Metrics, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	handler := &httpHandler{
		logger:  logger,
		ledger:  ledger,
		metrics: metrics,
		timeout: cfg.RequestTimeout,
	}
	api := router.Group("/api")
	api.Use(authority.Middleware())
	api.POST("/offline/sync", handler.handleSync)
	api.GET("/balance", handler.handleBalance)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	ledger  *Ledger
	metrics *Metrics
	timeout time.Duration
}

type syncRequest struct {
	Transactions []offline.OfflineTransaction `json:"transactions"`
}

func (handler *httpHandler) handleSync(ctx *gin.Context) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request syncRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.Transactions == nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "Missing transactions"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	response, err := handler.ledger.Sync(requestCtx, userID, request.Transactions)
	handler.metrics.observeSync(response, err)
	if err != nil {
		handler.logger.Error("offline sync failed", zap.String("user_id", userID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("sync_failed", "sync failed"))
		return
	}
	handler.logger.Info("offline sync",
		zap.String("user_id", userID),
		zap.Int("submitted", len(request.Transactions)),
		zap.Int("synced", len(response.SyncedTransactions)),
		zap.Int("failed", len(response.Failures)),
	)
	status := http.StatusOK
	if !response.Success {
		status = http.StatusBadRequest
	}
	ctx.JSON(status, response)
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	balance, err := handler.ledger.Balance(requestCtx, userID)
	if err != nil {
		handler.logger.Error("balance lookup failed", zap.String("user_id", userID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "balance unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"userId": userID, "balance": balance})
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	if handler.timeout <= 0 {
		return context.WithCancel(ctx.Request.Context())
	}
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
