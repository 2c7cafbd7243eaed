package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"mediconnect-backend/pkg/jwt"
	"mediconnect-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

const testSecret = "test-secret-key-for-middleware-tests"

func authRouter(manager *jwt.JWTManager) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(manager, nil))
	router.GET("/protected", func(c *gin.Context) {
		userID, _ := c.Get("user_id")
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	return router
}

func doAuthRequest(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	manager := jwt.NewJWTManager(testSecret, 15*time.Minute, 24*time.Hour)
	router := authRouter(manager)

	token, err := manager.GenerateAccessToken(uuid.New(), "doc@example.com", "doc", "user")
	assert.NoError(t, err)

	recorder := doAuthRequest(router, "Bearer "+token)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	manager := jwt.NewJWTManager(testSecret, 15*time.Minute, 24*time.Hour)
	router := authRouter(manager)

	recorder := doAuthRequest(router, "")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthMiddlewareRejectsWrongAudience(t *testing.T) {
	manager := jwt.NewJWTManager(testSecret, 15*time.Minute, 24*time.Hour)
	router := authRouter(manager)

	// Signed with the right secret but aimed at a different audience.
	mint := func(audience jwtlib.ClaimStrings) string {
		claims := &jwt.Claims{
			UserID: uuid.New(),
			RegisteredClaims: jwtlib.RegisteredClaims{
				ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute)),
				IssuedAt:  jwtlib.NewNumericDate(time.Now()),
				Audience:  audience,
			},
		}
		signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		assert.NoError(t, err)
		return signed
	}

	recorder := doAuthRequest(router, "Bearer "+mint(jwtlib.ClaimStrings{"some-other-service"}))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// No audience at all (the shape of a refresh token) is rejected too.
	recorder = doAuthRequest(router, "Bearer "+mint(nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthMiddlewareRejectsGarbageToken(t *testing.T) {
	manager := jwt.NewJWTManager(testSecret, 15*time.Minute, 24*time.Hour)
	router := authRouter(manager)

	recorder := doAuthRequest(router, "Bearer not.a.token")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
