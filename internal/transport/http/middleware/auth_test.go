package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/septivank/attendance-admission/internal/identity"
	"github.com/septivank/attendance-admission/internal/transport/http/middleware"
)

const (
	testSecret = "test-secret"
	testIssuer = "campus-idp"
)

func sign(t *testing.T, secret, issuer, subject, role string, expiresAt time.Time) string {
	t.Helper()
	claims := middleware.AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return raw
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/whoami", middleware.RequireAuth(middleware.NewAuthenticator(testSecret, testIssuer)), func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		body := gin.H{"id": id.IdentityID(), "kind": string(id.Kind())}
		if s, ok := id.(identity.Student); ok {
			body["device_id"] = s.DeviceID
		}
		c.JSON(http.StatusOK, body)
	})
	return r
}

func do(r *gin.Engine, bearer, deviceID string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/whoami", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if deviceID != "" {
		req.Header.Set(middleware.DeviceIDHeader, deviceID)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth_Student(t *testing.T) {
	r := newRouter()
	tok := sign(t, testSecret, testIssuer, "stu-1", "student", time.Now().Add(time.Hour))

	w := do(r, tok, "dev-1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["kind"] != "student" || body["device_id"] != "dev-1" {
		t.Errorf("unexpected identity %+v", body)
	}
}

func TestRequireAuth_StudentWithoutDevice(t *testing.T) {
	r := newRouter()
	tok := sign(t, testSecret, testIssuer, "stu-1", "student", time.Now().Add(time.Hour))

	if w := do(r, tok, ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestRequireAuth_Staff(t *testing.T) {
	r := newRouter()
	tok := sign(t, testSecret, testIssuer, "teacher-1", "teacher", time.Now().Add(time.Hour))

	w := do(r, tok, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	r := newRouter()
	future := time.Now().Add(time.Hour)

	cases := map[string]string{
		"missing":      "",
		"wrong secret": sign(t, "other-secret", testIssuer, "teacher-1", "teacher", future),
		"wrong issuer": sign(t, testSecret, "someone-else", "teacher-1", "teacher", future),
		"expired":      sign(t, testSecret, testIssuer, "teacher-1", "teacher", time.Now().Add(-time.Minute)),
		"unknown role": sign(t, testSecret, testIssuer, "x-1", "janitor", future),
		"missing sub":  sign(t, testSecret, testIssuer, "", "teacher", future),
		"not a jwt":    "garbage",
	}

	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if w := do(r, tok, "dev-1"); w.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestAuthenticator_NoIssuerConfigured(t *testing.T) {
	auth := middleware.NewAuthenticator(testSecret, "")
	tok := sign(t, testSecret, "anyone", "admin-1", "admin", time.Now().Add(time.Hour))

	claims, err := auth.Parse(tok)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Subject != "admin-1" || claims.Role != "admin" {
		t.Errorf("unexpected claims %+v", claims)
	}
}
