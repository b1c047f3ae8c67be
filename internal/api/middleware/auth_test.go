package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret"

func signTestToken(t *testing.T, secret, userID, email string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err, "failed to sign test token")
	return signed
}

func newAuthTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(AuthMiddleware(testJWTSecret))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": GetUserID(c),
			"email":   GetUserEmail(c),
		})
	})
	return r
}

func Test_AuthMiddleware_SetsCallerIdentity(t *testing.T) {
	r := newAuthTestRouter()

	token := signTestToken(t, testJWTSecret, "user-123", "member@test.com")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user-123", body["user_id"], "User id should come from the token claims")
	assert.Equal(t, "member@test.com", body["email"], "Email should come from the token claims")
}

func Test_AuthMiddleware_MissingHeader(t *testing.T) {
	r := newAuthTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func Test_AuthMiddleware_WrongSecret(t *testing.T) {
	r := newAuthTestRouter()

	token := signTestToken(t, "some-other-secret", "user-123", "member@test.com")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
