// Package chatgateway provides the main service registration for the chat
// gateway. It integrates with gomain by implementing a Register function that
// sets up the WebSocket endpoint and the HTTP surface for the service.
package chatgateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"

	"github.com/vasquez-law/chatgateway/internal/alert"
	"github.com/vasquez-law/chatgateway/internal/auth"
	"github.com/vasquez-law/chatgateway/internal/constants"
	gatewayerrors "github.com/vasquez-law/chatgateway/internal/errors"
	"github.com/vasquez-law/chatgateway/internal/httperrors"
	"github.com/vasquez-law/chatgateway/internal/metrics"
	"github.com/vasquez-law/chatgateway/internal/ratelimit"
	"github.com/vasquez-law/chatgateway/internal/reconnect"
	"github.com/vasquez-law/chatgateway/internal/respond"
	"github.com/vasquez-law/chatgateway/internal/router"
	"github.com/vasquez-law/chatgateway/internal/store"
	"github.com/vasquez-law/chatgateway/internal/util"
	"github.com/vasquez-law/chatgateway/internal/websocket"
)

var (
	// Global references for graceful shutdown
	globalWSHandler     *websocket.Handler
	globalGateway       *router.Gateway
	globalVault         *reconnect.Vault
	globalAdminLimiter  *ratelimit.MessageLimiter
	globalPublicLimiter *ratelimit.MessageLimiter
	globalLogger        *golog.Logger
	shutdownMu          sync.Mutex
)

// Register registers the chat gateway service with the gomain router.
// This function is called by gomain during service initialization.
//
// Parameters:
//   - r: Gin router for registering HTTP and WebSocket endpoints
//   - config: Configuration accessor for loading service settings
//   - logger: Logger for structured logging
//   - mongo: MongoDB client for data persistence
//
// Returns:
//   - error: Any error that occurred during registration
func Register(r *gin.Engine, config *goconfig.ConfigAccessor, logger *golog.Logger, mongo *gomongo.Mongo) error {
	// Create gateway-specific logger
	gatewayLogger := logger.WithGroup("gateway")
	gatewayLogger.Info("Initializing chat gateway service")

	// Validate critical configuration at startup
	// This ensures misconfigurations are caught before serving traffic
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		// Fall back to config file
		var err error
		jwtSecret, err = config.ConfigString("gateway.jwt_secret")
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to get JWT secret: %w", err)
		}
		if containsPlaceholder(jwtSecret) {
			return fmt.Errorf("JWT_SECRET contains placeholder value, set a real secret before deploying")
		}
	}

	// Validate JWT secret strength
	// No else needed: early return pattern (guard clause)
	if err := validateJWTSecret(jwtSecret); err != nil {
		gatewayLogger.Error("Configuration validation failed", "error", err)
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Load and validate HTTP path prefix early to fail fast on configuration errors.
	// Priority: Environment variable > Config file > Default ("/gateway")
	var err error
	pathPrefix := os.Getenv("GATEWAY_PATH_PREFIX")
	if pathPrefix == "" {
		// Fall back to config file
		pathPrefix, err = config.ConfigStringWithDefault("gateway.path_prefix", constants.DefaultPathPrefix)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to get path prefix: %w", err)
		}
	}
	// No else needed: early return pattern (guard clause)
	if pathPrefix == "" {
		return fmt.Errorf("path prefix cannot be empty")
	}
	// No else needed: early return pattern (guard clause)
	if !strings.HasPrefix(pathPrefix, "/") {
		return fmt.Errorf("path prefix must start with '/' (got: %s)", pathPrefix)
	}

	// Load reconnection token time-to-live
	reconnectTTLStr, err := config.ConfigStringWithDefault("gateway.reconnect_ttl", constants.DefaultReconnectTTL.String())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get reconnect TTL: %w", err)
	}
	reconnectTTL, err := time.ParseDuration(reconnectTTLStr)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("invalid reconnect TTL format: %w", err)
	}

	// Load maximum message size for WebSocket connections
	// Priority: Environment variable > Config file
	// Default: 1MB (1048576 bytes)
	maxMessageSize := int64(constants.DefaultMaxMessageSize)
	// No else needed: optional operation (configuration loading with fallback)
	if maxSizeStr := os.Getenv("MAX_MESSAGE_SIZE"); maxSizeStr != "" {
		var parsedSize int64
		// No else needed: optional operation (logging based on parse result)
		if _, err := fmt.Sscanf(maxSizeStr, "%d", &parsedSize); err == nil && parsedSize > 0 {
			maxMessageSize = parsedSize
			gatewayLogger.Info("Using MAX_MESSAGE_SIZE from environment", "size_bytes", maxMessageSize)
		} else {
			gatewayLogger.Warn("Invalid MAX_MESSAGE_SIZE environment variable, using default", "value", maxSizeStr, "default", maxMessageSize)
		}
	} else {
		// Try to load from config file
		// No else needed: optional operation (logging based on parse result)
		if configSizeStr, err := config.ConfigStringWithDefault("gateway.max_message_size", fmt.Sprintf("%d", constants.DefaultMaxMessageSize)); err == nil {
			var parsedSize int64
			// No else needed: optional operation (logging based on parse result)
			if _, parseErr := fmt.Sscanf(configSizeStr, "%d", &parsedSize); parseErr == nil && parsedSize > 0 {
				maxMessageSize = parsedSize
			} else {
				gatewayLogger.Warn("Invalid max_message_size in config, using default", "value", configSizeStr, "default", maxMessageSize)
			}
		}
	}

	// Create the record store
	dbName, err := config.ConfigStringWithDefault("gateway.database", constants.DefaultDatabase)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get database name: %w", err)
	}
	recordStore := store.NewMongoStore(mongo, dbName, gatewayLogger)

	// Ensure MongoDB indexes are created for optimal query performance
	indexCtx, indexCancel := util.NewTimeoutContext(constants.MongoIndexTimeout)
	defer indexCancel()
	// No else needed: optional operation (non-critical index creation)
	if err := recordStore.EnsureIndexes(indexCtx); err != nil {
		gatewayLogger.Warn("Failed to create MongoDB indexes", "error", err)
		// Don't fail startup - indexes can be created manually if needed
	}

	// Create escalation alert service
	alertService, err := alert.NewService(gatewayLogger, config, mongo)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create alert service: %w", err)
	}

	// Create the reconnection token vault.
	// NOTE: vault.StartCleanup() is deferred until after all validation
	// to avoid leaking goroutines if Register() returns an error.
	vault := reconnect.NewVaultWithTTL(reconnectTTL)

	// Create the intent responder and the event gateway
	responder := respond.NewIntentResponder()
	gateway := router.NewGateway(recordStore, responder, alertService, vault, gatewayLogger)

	// Create admin rate limiter
	adminRateLimit, err := config.ConfigIntWithDefault("gateway.admin_rate_limit", constants.DefaultAdminRateLimit)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get admin rate limit: %w", err)
	}
	adminRateWindowStr, err := config.ConfigStringWithDefault("gateway.admin_rate_window", constants.DefaultRateWindow.String())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get admin rate window: %w", err)
	}
	adminRateWindow, err := time.ParseDuration(adminRateWindowStr)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("invalid admin rate window format: %w", err)
	}

	// No else needed: early return pattern (guard clause)
	if err := util.ValidatePositive(adminRateLimit, "admin rate limit"); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	adminLimiter := ratelimit.NewMessageLimiter(adminRateWindow, adminRateLimit)

	gatewayLogger.Info("Admin rate limiter configured",
		"rate_limit", adminRateLimit,
		"window", adminRateWindow)

	// Create JWT validator and the handshake credential gate
	validator := auth.NewJWTValidator(jwtSecret)
	gate := auth.NewGate(validator, vault, gatewayLogger)

	// Create WebSocket handler with the event gateway
	wsHandler := websocket.NewHandler(gate, gateway, gatewayLogger, maxMessageSize)

	// Create public endpoint rate limiter (per-IP, prevents abuse of healthz/readyz/metrics)
	publicLimiter := ratelimit.NewMessageLimiter(1*time.Minute, constants.PublicEndpointRate)

	// Configure allowed origins for WebSocket connections
	// SECURITY: When no origins are configured, ALL origins are accepted.
	// This is acceptable only in development. In production, always configure
	// allowed_origins to prevent cross-site WebSocket hijacking.
	allowedOriginsStr, err := config.ConfigStringWithDefault("gateway.allowed_origins", "")
	// No else needed: optional operation (configuration with fallback logging)
	if err == nil && allowedOriginsStr != "" {
		if containsPlaceholder(allowedOriginsStr) {
			return fmt.Errorf("gateway.allowed_origins contains placeholder value %q, set actual origins before deploying", allowedOriginsStr)
		}
		origins := strings.Split(allowedOriginsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		wsHandler.SetAllowedOrigins(origins)
	} else {
		gatewayLogger.Warn("No allowed origins configured, allowing all origins (development mode)")
	}

	// Start background cleanup goroutines only after all validation is complete,
	// so we don't leak goroutines if Register() returns an error.
	vault.StartCleanup()
	adminLimiter.StartCleanup()
	publicLimiter.StartCleanup()

	// Store global references for graceful shutdown.
	// Stop any previously-registered instances to prevent goroutine leaks
	// when Register() is called multiple times (tests, hot-reload).
	shutdownMu.Lock()
	if globalVault != nil {
		globalVault.StopCleanup()
	}
	if globalGateway != nil {
		globalGateway.Shutdown()
	}
	if globalAdminLimiter != nil {
		globalAdminLimiter.StopCleanup()
	}
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}
	if globalWSHandler != nil {
		_ = globalWSHandler.ShutdownWithContext(context.Background())
	}
	globalWSHandler = wsHandler
	globalGateway = gateway
	globalVault = vault
	globalAdminLimiter = adminLimiter
	globalPublicLimiter = publicLimiter
	globalLogger = gatewayLogger
	shutdownMu.Unlock()

	// Configure CORS middleware
	// Load CORS configuration from config file or environment
	corsOriginsStr, err := config.ConfigStringWithDefault("gateway.cors_allowed_origins", "")
	// No else needed: optional operation (CORS configuration with fallback logging)
	if err == nil && corsOriginsStr != "" {
		if containsPlaceholder(corsOriginsStr) {
			return fmt.Errorf("gateway.cors_allowed_origins contains placeholder value %q, set actual origins before deploying", corsOriginsStr)
		}
		// Parse allowed origins from comma-separated string
		allowedOrigins := strings.Split(corsOriginsStr, ",")
		for i, origin := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(origin)
		}

		corsConfig := cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}

		r.Use(cors.New(corsConfig))

		gatewayLogger.Info("CORS middleware configured",
			"allowed_origins", allowedOrigins,
			"allow_credentials", true)
	} else {
		gatewayLogger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	// Configure trusted proxies to prevent X-Forwarded-For spoofing.
	// c.ClientIP() will only trust X-Forwarded-For from these networks.
	trustedProxiesStr, _ := config.ConfigStringWithDefault("gateway.trusted_proxies", constants.DefaultTrustedProxies)
	if trustedProxiesStr != "" {
		proxies := strings.Split(trustedProxiesStr, ",")
		for i, p := range proxies {
			proxies[i] = strings.TrimSpace(p)
		}
		if err := r.SetTrustedProxies(proxies); err != nil {
			gatewayLogger.Warn("Failed to set trusted proxies", "error", err)
		} else {
			gatewayLogger.Info("Trusted proxies configured", "proxies", proxies)
		}
	}

	// Apply security headers middleware
	r.Use(securityHeadersMiddleware())

	// Apply metrics middleware to record HTTP request duration
	r.Use(metricsMiddleware())

	gatewayLogger.Info("Using HTTP path prefix", "prefix", pathPrefix)

	// Register routes
	gatewayGroup := r.Group(pathPrefix)
	{
		// WebSocket endpoint - use Gin context adapter
		gatewayGroup.GET("/ws", func(c *gin.Context) {
			// If the JWT is in a query param, move it to the Authorization
			// header and redact it from the URL to keep it out of access logs.
			if token := c.Query("token"); token != "" {
				if c.Request.Header.Get(constants.HeaderAuthorization) == "" {
					c.Request.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
				}
				q := c.Request.URL.Query()
				q.Del("token")
				c.Request.URL.RawQuery = q.Encode()
			}
			wsHandler.HandleWebSocket(c.Writer, c.Request)
		})

		// Admin HTTP endpoints for publishing notifications and case updates
		adminGroup := gatewayGroup.Group("/admin")
		adminGroup.Use(adminAuthMiddleware(validator, gatewayLogger))
		adminGroup.Use(adminRateLimitMiddleware(adminLimiter, gatewayLogger))
		{
			adminGroup.POST("/notify/:userID", handleAdminNotify(gateway, gatewayLogger))
			adminGroup.POST("/cases/:caseID/update", handleCaseUpdate(gateway, gatewayLogger))
		}

		// Health check endpoints (rate limited to prevent abuse)
		gatewayGroup.GET("/healthz", publicRateLimitMiddleware(publicLimiter, gatewayLogger), handleHealthCheck)
		gatewayGroup.GET("/readyz", publicRateLimitMiddleware(publicLimiter, gatewayLogger), handleReadyCheck(mongo, dbName, gatewayLogger))
	}

	// Prometheus metrics endpoint, under the prefix and restricted to configured networks
	metricsAllowedStr, _ := config.ConfigStringWithDefault("gateway.metrics_allowed_networks", constants.DefaultMetricsAllowedNetworks)
	metricsNets := parseNetworks(metricsAllowedStr, gatewayLogger)
	gatewayGroup.GET("/metrics/prometheus",
		metricsNetworkMiddleware(metricsNets, gatewayLogger),
		publicRateLimitMiddleware(publicLimiter, gatewayLogger),
		gin.WrapH(promhttp.Handler()),
	)

	// Warn if MongoDB URI appears to have no authentication
	mongoURI, _ := config.ConfigStringWithDefault("database.uri", "")
	if mongoURI == "" {
		mongoURI, _ = config.ConfigStringWithDefault("MONGO_URI", "")
	}
	if mongoURI != "" && !strings.Contains(mongoURI, "@") {
		gatewayLogger.Warn("MongoDB URI does not contain authentication credentials, ensure auth is configured for production")
	}

	gatewayLogger.Info("Chat gateway service registered successfully",
		"websocket_endpoint", pathPrefix+"/ws",
		"admin_endpoints", pathPrefix+"/admin/*",
		"health_endpoints", pathPrefix+"/healthz, "+pathPrefix+"/readyz",
		"metrics_endpoint", pathPrefix+"/metrics/prometheus",
	)

	return nil
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// publicRateLimitMiddleware creates a Gin middleware for rate limiting public endpoints
// (healthz, readyz, metrics) by client IP to prevent abuse.
func publicRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Use Gin's ClientIP() which respects trusted proxies to prevent X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		if !limiter.Allow(clientIP) {
			retryAfter := limiter.GetRetryAfter(clientIP)
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))

			c.JSON(constants.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": constants.ErrMsgRateLimitExceeded,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// adminAuthMiddleware creates a Gin middleware for JWT authentication with an
// admin role requirement
func adminAuthMiddleware(validator *auth.JWTValidator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		token, err := util.ExtractBearerToken(authHeader)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			httperrors.RespondUnauthorized(c, httperrors.MsgInvalidAuthHeader)
			c.Abort()
			return
		}

		// Validate token
		claims, err := validator.ValidateToken(token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// Log detailed error server-side
			logger.Warn("Token validation failed",
				"error", err,
				"component", "auth")
			// Send generic error to client
			httperrors.RespondInvalidToken(c)
			c.Abort()
			return
		}

		// Check for admin role
		// No else needed: early return pattern (guard clause)
		if !util.HasRole(claims.Role, constants.RoleAdmin) {
			logger.Warn("Insufficient permissions for admin endpoint",
				"user_id", claims.UserID,
				"role", claims.Role,
				"component", "auth")
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		// Store claims in context
		c.Set("claims", claims)
		c.Next()
	}
}

// adminRateLimitMiddleware creates a Gin middleware for admin endpoint rate limiting
func adminRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get claims from context (set by adminAuthMiddleware)
		claimsInterface, exists := c.Get("claims")
		// No else needed: early return pattern (guard clause - let adminAuthMiddleware handle missing claims)
		if !exists {
			c.Next()
			return
		}

		claims, ok := claimsInterface.(*auth.Claims)
		// No else needed: early return pattern (guard clause)
		if !ok {
			util.LogError(logger, "admin_rate_limit", "validate claims type", fmt.Errorf("invalid claims type in context"))
			httperrors.RespondInternalError(c)
			c.Abort()
			return
		}

		// Check rate limit
		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(claims.UserID) {
			retryAfter := limiter.GetRetryAfter(claims.UserID)

			logger.Warn("Admin rate limit exceeded",
				"user_id", claims.UserID,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfter,
				"component", "admin_rate_limit")

			// Convert milliseconds to seconds with ceiling to avoid 0
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			// No else needed: optional operation (minimum retry after enforcement)
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))

			c.JSON(constants.StatusTooManyRequests, gin.H{
				"error":          "rate_limit_exceeded",
				"message":        constants.ErrMsgRateLimitExceeded,
				"retry_after_ms": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// notifyRequest is the body accepted by the admin notify endpoint
type notifyRequest struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"`
}

// handleAdminNotify returns a handler that publishes a notification to a user.
// The notification is persisted and pushed live to the user's active
// connections when they are subscribed.
func handleAdminNotify(gateway *router.Gateway, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userID")
		// No else needed: early return pattern (guard clause)
		if userID == "" {
			httperrors.RespondBadRequest(c, constants.ErrMsgUserIDRequired)
			return
		}

		var req notifyRequest
		// No else needed: early return pattern (guard clause)
		if err := c.ShouldBindJSON(&req); err != nil {
			httperrors.RespondBadRequest(c, "Invalid request body")
			return
		}
		// No else needed: early return pattern (guard clause)
		if req.Message == "" {
			httperrors.RespondBadRequest(c, "Notification message is required")
			return
		}
		// No else needed: optional operation (default notification type)
		if req.Type == "" {
			req.Type = constants.NotificationTypeInfo
		}

		ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
		defer cancel()

		// Fire-and-forget: the live broadcast always happens and a failed
		// record write is logged by the gateway, not surfaced here
		gateway.SendNotification(ctx, &store.Notification{
			UserID:   userID,
			Type:     req.Type,
			Title:    req.Title,
			Message:  req.Message,
			Metadata: req.Metadata,
		})

		c.JSON(constants.StatusOK, gin.H{
			"status":  "delivered",
			"user_id": userID,
		})
	}
}

// caseUpdateRequest is the body accepted by the case update endpoint
type caseUpdateRequest struct {
	UpdateType string            `json:"updateType"`
	Data       map[string]string `json:"data"`
	UpdatedBy  string            `json:"updatedBy"`
}

// handleCaseUpdate returns a handler that fans a case update out to the case
// room and notifies the client and the assigned attorney.
func handleCaseUpdate(gateway *router.Gateway, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID := c.Param("caseID")
		// No else needed: early return pattern (guard clause)
		if caseID == "" {
			httperrors.RespondBadRequest(c, constants.ErrMsgCaseIDRequired)
			return
		}

		var req caseUpdateRequest
		// No else needed: early return pattern (guard clause)
		if err := c.ShouldBindJSON(&req); err != nil {
			httperrors.RespondBadRequest(c, "Invalid request body")
			return
		}
		// No else needed: early return pattern (guard clause)
		if req.UpdateType == "" {
			httperrors.RespondBadRequest(c, "updateType is required")
			return
		}

		ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
		defer cancel()

		err := gateway.SendCaseUpdate(ctx, caseID, req.UpdateType, req.Data, req.UpdatedBy)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			util.LogError(logger, "http", "publish case update", err, "case_id", caseID)

			// Map error to appropriate HTTP status
			var gatewayErr *gatewayerrors.GatewayError
			if errors.As(err, &gatewayErr) && gatewayErr.Code == gatewayerrors.ErrCodeCaseNotFound {
				httperrors.RespondNotFound(c, "Case not found")
				return
			}
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"status":      "published",
			"case_id":     caseID,
			"update_type": req.UpdateType,
		})
	}
}

// handleHealthCheck returns a handler for liveness probe endpoint.
// This endpoint checks if the application is alive and should be restarted if it fails.
func handleHealthCheck(c *gin.Context) {
	// Basic liveness check - if we can respond, we're alive
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck returns a handler for readiness probe endpoint.
// This endpoint checks if the application is ready to serve traffic.
func handleReadyCheck(mongo *gomongo.Mongo, dbName string, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]interface{})
		allReady := true

		// Check MongoDB connection
		// No else needed: optional operation (MongoDB health check)
		if mongo == nil {
			checks["mongodb"] = map[string]interface{}{
				"status": "not ready",
				"reason": "MongoDB not initialized",
			}
			allReady = false
		} else {
			// Verify MongoDB connection by pinging the server
			ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
			defer cancel()

			testColl := mongo.Coll(dbName, constants.CollConversations)
			err := testColl.Ping(ctx)
			// No else needed: optional operation (health check result recording)
			if err != nil {
				// Log detailed error server-side
				logger.Warn("MongoDB health check failed",
					"error", err,
					"component", "health")

				// Send generic error to client
				checks["mongodb"] = map[string]interface{}{
					"status": "not ready",
					"reason": "Database connectivity check failed",
				}
				allReady = false
			} else {
				checks["mongodb"] = map[string]interface{}{
					"status": "ready",
				}
			}
		}

		// Determine overall status
		status := "ready"
		statusCode := constants.StatusOK
		// No else needed: optional operation (status code adjustment based on health)
		if !allReady {
			status = "not ready"
			statusCode = constants.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	}
}

// Shutdown gracefully shuts down the chat gateway service.
// It closes all active WebSocket connections and stops background goroutines.
// This function should be called when the application receives a SIGTERM or
// SIGINT signal. It respects the context deadline and will force shutdown if
// the deadline is exceeded.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	// No else needed: optional operation (logging during shutdown)
	if globalLogger != nil {
		globalLogger.Info("Starting graceful shutdown of chat gateway service")
	}

	// Stop the reconnection token sweeper
	// No else needed: optional operation (cleanup stop)
	if globalVault != nil {
		globalVault.StopCleanup()
	}

	// Stop the event gateway's background goroutines
	// No else needed: optional operation (cleanup stop)
	if globalGateway != nil {
		globalGateway.Shutdown()
	}

	// Stop admin rate limiter cleanup
	// No else needed: optional operation (cleanup stop)
	if globalAdminLimiter != nil {
		globalAdminLimiter.StopCleanup()
	}

	// Stop public rate limiter cleanup
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}

	// Close all WebSocket connections with context deadline
	// No else needed: optional operation (WebSocket shutdown with error handling)
	if globalWSHandler != nil {
		// No else needed: early return pattern (guard clause)
		if err := globalWSHandler.ShutdownWithContext(ctx); err != nil {
			// No else needed: optional operation (error logging)
			if globalLogger != nil {
				globalLogger.Warn("WebSocket handler shutdown error", "error", err)
			}
			return err
		}
	}

	// No else needed: optional operation (final logging)
	if globalLogger != nil {
		globalLogger.Info("Chat gateway service shutdown complete")
		// Note: Logger.Close() should be called by gomain, not here
	}

	return nil
}

// validateJWTSecret validates the JWT secret strength
// Returns error if secret is empty, too short, or contains weak patterns
func validateJWTSecret(secret string) error {
	// No else needed: early return pattern (guard clause)
	if err := util.ValidateNotEmpty(secret, "JWT secret"); err != nil {
		return err
	}

	// Check minimum length (32 characters for strong security)
	// No else needed: early return pattern (guard clause)
	if err := util.ValidateMinLength(secret, constants.MinJWTSecretLength, "JWT secret"); err != nil {
		return fmt.Errorf("%w. Generate a strong secret with: openssl rand -base64 32", err)
	}

	// Check for common weak secrets
	// No else needed: early return pattern (guard clause)
	if weak, pattern := util.ContainsWeakPattern(secret, constants.WeakSecrets); weak {
		return fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			pattern)
	}

	return nil
}

// parseNetworks parses a comma-separated list of CIDR network strings.
func parseNetworks(networksStr string, logger *golog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(networksStr, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("Invalid CIDR in metrics_allowed_networks", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts access to the metrics endpoint to configured networks.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// If no networks configured, allow all (development mode)
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			logger.Warn("Could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warn("Metrics access denied from unauthorized network",
			"client_ip", c.ClientIP(),
			"component", "metrics")
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}

// containsPlaceholder checks if a configuration value still contains
// a deployment placeholder that should have been replaced.
func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}
