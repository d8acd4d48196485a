package chatgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasquez-law/chatgateway/internal/auth"
	"github.com/vasquez-law/chatgateway/internal/constants"
	"github.com/vasquez-law/chatgateway/internal/ratelimit"
	"github.com/vasquez-law/chatgateway/internal/reconnect"
	"github.com/vasquez-law/chatgateway/internal/respond"
	"github.com/vasquez-law/chatgateway/internal/router"
	"github.com/vasquez-law/chatgateway/internal/store"
)

const testJWTSecret = "k9f2m4x8q1w7e5r3t6y0u9i8o7p6a5s4"

func testLogger(t *testing.T) *golog.Logger {
	t.Helper()
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	require.NoError(t, err)
	return logger
}

func signAdminToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"id":  userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

// performRequest is a helper function to perform HTTP requests in tests
func performRequest(r http.Handler, method, path string, body string, header http.Header) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, _ := http.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:54321"
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// adminRecords is a minimal in-memory record store for admin endpoint tests
type adminRecords struct {
	notifications []*store.Notification
	cases         map[string]*store.Case
}

func (a *adminRecords) CreateConversation(_ context.Context, c *store.Conversation) error {
	c.ID = "conv-1"
	return nil
}
func (a *adminRecords) GetConversation(context.Context, string) (*store.Conversation, error) {
	return nil, store.ErrConversationNotFound
}
func (a *adminRecords) CloseConversation(context.Context, string, string, time.Duration) error {
	return nil
}
func (a *adminRecords) AddMessage(context.Context, *store.Message) error { return nil }
func (a *adminRecords) RecentMessages(context.Context, string, int) ([]store.Message, error) {
	return nil, nil
}
func (a *adminRecords) CreateNotification(_ context.Context, n *store.Notification) error {
	a.notifications = append(a.notifications, n)
	return nil
}
func (a *adminRecords) UnreadNotifications(context.Context, string, int) ([]store.Notification, error) {
	return nil, nil
}
func (a *adminRecords) MarkNotificationRead(context.Context, string, string) error { return nil }
func (a *adminRecords) GetCase(_ context.Context, caseID string) (*store.Case, error) {
	c, ok := a.cases[caseID]
	if !ok {
		return nil, store.ErrCaseNotFound
	}
	return c, nil
}
func (a *adminRecords) UserHasCaseAccess(context.Context, string, string) (bool, error) {
	return false, nil
}
func (a *adminRecords) CreateSupportTicket(context.Context, *store.SupportTicket) error { return nil }

func newTestGateway(t *testing.T, records router.RecordStore) *router.Gateway {
	t.Helper()
	logger := testLogger(t)
	gateway := router.NewGateway(records, respond.NewIntentResponder(), nil, reconnect.NewVault(), logger)
	t.Cleanup(gateway.Shutdown)
	return gateway
}

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"empty secret", "", true},
		{"too short", "short", true},
		{"weak pattern secret", "secretsecretsecretsecretsecretsecret", true},
		{"weak pattern password", "password-password-password-password", true},
		{"weak pattern mixed case", "MyPASSWORDisdefinitelylongenough1234", true},
		{"strong secret", testJWTSecret, false},
		{"strong long secret", "Zr8v2Lq9Xw4Jn7Bc1Dk6Mh3Pg5Ts0Yf2Ae8Ui4Oq6", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJWTSecret(tt.secret)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestContainsPlaceholder(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"REPLACE_WITH_REAL_SECRET", true},
		{"placeholder-value", true},
		{"change-me", true},
		{"CHANGE_ME_NOW", true},
		{"your-domain.example.com", true},
		{"https://www.vasquezlawnc.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, containsPlaceholder(tt.value))
		})
	}
}

func TestParseNetworks(t *testing.T) {
	logger := testLogger(t)

	t.Run("valid CIDRs", func(t *testing.T) {
		nets := parseNetworks("10.0.0.0/8, 127.0.0.0/8", logger)
		assert.Len(t, nets, 2)
	})

	t.Run("skips invalid CIDRs", func(t *testing.T) {
		nets := parseNetworks("not-a-cidr,192.168.0.0/16", logger)
		assert.Len(t, nets, 1)
	})

	t.Run("empty string", func(t *testing.T) {
		nets := parseNetworks("", logger)
		assert.Empty(t, nets)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(securityHeadersMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	w := performRequest(r, "GET", "/ping", "", nil)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestAdminAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testLogger(t)
	validator := auth.NewJWTValidator(testJWTSecret)

	r := gin.New()
	r.GET("/admin/ping", adminAuthMiddleware(validator, logger), func(c *gin.Context) {
		c.String(200, "pong")
	})

	t.Run("missing header returns 401", func(t *testing.T) {
		w := performRequest(r, "GET", "/admin/ping", "", nil)
		assert.Equal(t, 401, w.Code)
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer not-a-jwt")
		w := performRequest(r, "GET", "/admin/ping", "", header)
		assert.Equal(t, 401, w.Code)
	})

	t.Run("non-admin role returns 403", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+signAdminToken(t, "user-1", "CLIENT"))
		w := performRequest(r, "GET", "/admin/ping", "", header)
		assert.Equal(t, 403, w.Code)
	})

	t.Run("admin role passes through", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+signAdminToken(t, "admin-1", constants.RoleAdmin))
		w := performRequest(r, "GET", "/admin/ping", "", header)
		assert.Equal(t, 200, w.Code)
		assert.Equal(t, "pong", w.Body.String())
	})
}

func TestAdminRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testLogger(t)
	validator := auth.NewJWTValidator(testJWTSecret)
	limiter := ratelimit.NewMessageLimiter(time.Minute, 2)

	r := gin.New()
	r.GET("/admin/ping",
		adminAuthMiddleware(validator, logger),
		adminRateLimitMiddleware(limiter, logger),
		func(c *gin.Context) { c.String(200, "pong") },
	)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+signAdminToken(t, "admin-1", constants.RoleAdmin))

	assert.Equal(t, 200, performRequest(r, "GET", "/admin/ping", "", header).Code)
	assert.Equal(t, 200, performRequest(r, "GET", "/admin/ping", "", header).Code)

	w := performRequest(r, "GET", "/admin/ping", "", header)
	assert.Equal(t, constants.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRetryAfter))
}

func TestPublicRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testLogger(t)
	limiter := ratelimit.NewMessageLimiter(time.Minute, 3)

	r := gin.New()
	r.GET("/healthz", publicRateLimitMiddleware(limiter, logger), handleHealthCheck)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 200, performRequest(r, "GET", "/healthz", "", nil).Code)
	}

	w := performRequest(r, "GET", "/healthz", "", nil)
	assert.Equal(t, constants.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRetryAfter))
}

func TestMetricsNetworkMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testLogger(t)

	t.Run("allowed network passes", func(t *testing.T) {
		nets := parseNetworks("127.0.0.0/8", logger)
		r := gin.New()
		r.GET("/metrics", metricsNetworkMiddleware(nets, logger), func(c *gin.Context) {
			c.String(200, "ok")
		})

		w := performRequest(r, "GET", "/metrics", "", nil)
		assert.Equal(t, 200, w.Code)
	})

	t.Run("denied network returns 403", func(t *testing.T) {
		nets := parseNetworks("10.0.0.0/8", logger)
		r := gin.New()
		r.GET("/metrics", metricsNetworkMiddleware(nets, logger), func(c *gin.Context) {
			c.String(200, "ok")
		})

		w := performRequest(r, "GET", "/metrics", "", nil)
		assert.Equal(t, 403, w.Code)
	})

	t.Run("no networks configured allows all", func(t *testing.T) {
		r := gin.New()
		r.GET("/metrics", metricsNetworkMiddleware(nil, logger), func(c *gin.Context) {
			c.String(200, "ok")
		})

		w := performRequest(r, "GET", "/metrics", "", nil)
		assert.Equal(t, 200, w.Code)
	})
}

func TestHandleHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/healthz", handleHealthCheck)

	w := performRequest(r, "GET", "/healthz", "", nil)
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHandleReadyCheckNilMongo(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testLogger(t)

	r := gin.New()
	r.GET("/readyz", handleReadyCheck(nil, constants.DefaultDatabase, logger))

	w := performRequest(r, "GET", "/readyz", "", nil)
	assert.Equal(t, constants.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not ready")
	assert.Contains(t, w.Body.String(), "mongodb")
}

func TestHandleAdminNotify(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testLogger(t)
	records := &adminRecords{}
	gateway := newTestGateway(t, records)

	r := gin.New()
	r.POST("/notify/:userID", handleAdminNotify(gateway, logger))

	t.Run("invalid body returns 400", func(t *testing.T) {
		w := performRequest(r, "POST", "/notify/user-1", "{not json", nil)
		assert.Equal(t, 400, w.Code)
	})

	t.Run("missing message returns 400", func(t *testing.T) {
		w := performRequest(r, "POST", "/notify/user-1", `{"title":"Hi"}`, nil)
		assert.Equal(t, 400, w.Code)
	})

	t.Run("valid notification is persisted", func(t *testing.T) {
		body := `{"type":"info","title":"Appointment","message":"Your consultation is tomorrow"}`
		w := performRequest(r, "POST", "/notify/user-1", body, nil)
		assert.Equal(t, 200, w.Code)
		assert.Contains(t, w.Body.String(), "delivered")

		require.Len(t, records.notifications, 1)
		assert.Equal(t, "user-1", records.notifications[0].UserID)
		assert.Equal(t, "Your consultation is tomorrow", records.notifications[0].Message)
		// The stored record is normalized to SYSTEM and unread
		assert.Equal(t, constants.NotificationTypeSystem, records.notifications[0].Type)
		assert.False(t, records.notifications[0].Read)
	})

	t.Run("omitted type still persists a record", func(t *testing.T) {
		body := `{"message":"Reminder"}`
		w := performRequest(r, "POST", "/notify/user-2", body, nil)
		assert.Equal(t, 200, w.Code)

		last := records.notifications[len(records.notifications)-1]
		assert.Equal(t, constants.NotificationTypeSystem, last.Type)
		assert.Equal(t, "Reminder", last.Message)
	})
}

func TestHandleCaseUpdate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testLogger(t)
	records := &adminRecords{
		cases: map[string]*store.Case{
			"case-1": {
				ID:         "case-1",
				CaseNumber: "VLF-100",
				ClientID:   "client-1",
				AttorneyID: "attorney-1",
			},
		},
	}
	gateway := newTestGateway(t, records)

	r := gin.New()
	r.POST("/cases/:caseID/update", handleCaseUpdate(gateway, logger))

	t.Run("missing updateType returns 400", func(t *testing.T) {
		w := performRequest(r, "POST", "/cases/case-1/update", `{"updatedBy":"attorney-1"}`, nil)
		assert.Equal(t, 400, w.Code)
	})

	t.Run("unknown case returns 404", func(t *testing.T) {
		body := `{"updateType":"status_change"}`
		w := performRequest(r, "POST", "/cases/missing/update", body, nil)
		assert.Equal(t, 404, w.Code)
	})

	t.Run("valid update notifies client and attorney", func(t *testing.T) {
		body := `{"updateType":"status_change","data":{"status":"in_review"},"updatedBy":"paralegal-1"}`
		w := performRequest(r, "POST", "/cases/case-1/update", body, nil)
		assert.Equal(t, 200, w.Code)
		assert.Contains(t, w.Body.String(), "published")

		require.Len(t, records.notifications, 2)
		assert.Equal(t, "client-1", records.notifications[0].UserID)
		assert.Equal(t, "attorney-1", records.notifications[1].UserID)
		assert.Equal(t, "Case VLF-100 status has been updated", records.notifications[0].Message)
	})

	t.Run("updating attorney is not notified", func(t *testing.T) {
		before := len(records.notifications)
		body := `{"updateType":"note_added","updatedBy":"attorney-1"}`
		w := performRequest(r, "POST", "/cases/case-1/update", body, nil)
		assert.Equal(t, 200, w.Code)

		require.Len(t, records.notifications, before+1)
		assert.Equal(t, "client-1", records.notifications[before].UserID)
	})
}

func TestShutdownWithNoRegisteredService(t *testing.T) {
	// Shutdown before Register must be a no-op
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, Shutdown(ctx))
}
