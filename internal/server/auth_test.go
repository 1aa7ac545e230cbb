package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

func newAuthContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestSignupRejectsShortPassword(t *testing.T) {
	st, _, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	ctx, _ := newAuthContext(t, http.MethodPost, "/api/auth/signup", `{"email":"ava@acme.io","password":"short"}`)
	err := handler.signup(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSignupCreatesUser(t *testing.T) {
	st, mock, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	mock.ExpectExec(`INSERT INTO users \(id, email, password_hash, created_at\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(sqlmock.AnyArg(), "ava@acme.io", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, rec := newAuthContext(t, http.MethodPost, "/api/auth/signup", `{"email":"Ava@Acme.IO","password":"long enough password"}`)
	if err := handler.signup(ctx); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	st, mock, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})

	ctx, _ := newAuthContext(t, http.MethodPost, "/api/auth/signup", `{"email":"ava@acme.io","password":"long enough password"}`)
	err := handler.signup(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	st, mock, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse battery"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
		AddRow("user-1", "ava@acme.io", string(hash), time.Now())
	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE email = \$1`).
		WithArgs("ava@acme.io").
		WillReturnRows(rows)

	ctx, rec := newAuthContext(t, http.MethodPost, "/api/auth/login", `{"email":"ava@acme.io","password":"correct horse battery"}`)
	if err := handler.login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected token in response")
	}
	if got := rec.Header().Get("Authorization"); got != "Bearer "+resp.Token {
		t.Fatalf("authorization header = %q", got)
	}
	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "auth" {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value != resp.Token || !cookie.HttpOnly {
		t.Fatalf("auth cookie = %+v", cookie)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	st, mock, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse battery"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
		AddRow("user-1", "ava@acme.io", string(hash), time.Now())
	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE email = \$1`).
		WithArgs("ava@acme.io").
		WillReturnRows(rows)

	ctx, _ := newAuthContext(t, http.MethodPost, "/api/auth/login", `{"email":"ava@acme.io","password":"wrong"}`)
	loginErr := handler.login(ctx)
	httpErr, ok := loginErr.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", loginErr)
	}
}
