package handler

import (
	"net/http"

	"wallet-ledger/internal/adapter/http/middleware"
	redisStore "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	WebhookSvc     ports.WebhookService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	MetricsHandler http.Handler // nil = /metrics not served
	MetricsPath    string
	Mode           string // gin mode; empty = release
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	mode := deps.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsHandler != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.MetricsHandler))
	}

	rules := middleware.DefaultRateLimitRules()

	// rl returns the limiter for group, or a no-op when rate limiting is off.
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.POST("", rl(middleware.GroupWalletProvision), walletHandler.Provision)
		wallets.GET("/balance", rl(middleware.GroupWalletRead), walletHandler.GetBalance)
		wallets.GET("/transactions", rl(middleware.GroupWalletRead), walletHandler.GetHistory)
		wallets.POST("/deposit", rl(middleware.GroupWalletWrite), walletHandler.Deposit)
		wallets.POST("/withdraw", rl(middleware.GroupWalletWrite), walletHandler.Withdraw)
		wallets.POST("/transfer", rl(middleware.GroupWalletWrite), walletHandler.Transfer)
	}

	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	users := v1.Group("/users/me")
	{
		users.PUT("/webhook", rl(middleware.GroupWebhookConfig), webhookHandler.Update)
	}

	return r
}
