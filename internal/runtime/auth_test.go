package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	var gotUser string
	var gotSubject string
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		gotUser, _ = c.Get("user_id").(string)
		gotSubject, _ = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if gotUser != "user-1" || gotSubject != "user-1" {
		t.Fatalf("user = %q, subject = %q", gotUser, gotSubject)
	}
}

func TestMiddlewareAcceptsCookie(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-2", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: token})
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"missing token", func(r *http.Request) {}},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not-a-jwt") }},
		{"wrong secret", func(r *http.Request) {
			tok, _ := SignJWT("user-1", []byte("other-secret"), time.Hour)
			r.Header.Set("Authorization", "Bearer "+tok)
		}},
		{"expired", func(r *http.Request) {
			tok, _ := SignJWT("user-1", secret, -time.Minute)
			r.Header.Set("Authorization", "Bearer "+tok)
		}},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		tc.setup(req)
		rec := httptest.NewRecorder()
		err := handler(e.NewContext(req, rec))
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %v", tc.name, err)
		}
	}
}
