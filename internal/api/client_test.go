package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// testJWT mints a signed token expiring after d. Only the exp claim matters;
// the client never verifies signatures.
func testJWT(t testing.TB, d time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(d).Unix(),
	})
	raw, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return raw
}

func TestClient_ListNotes(t *testing.T) {
	since := time.Date(2026, 2, 14, 10, 30, 0, 123456789, time.UTC)
	access := testJWT(t, time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/notes" {
			t.Errorf("path = %s, want /api/v1/notes", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+access {
			t.Errorf("authorization = %q, want the bearer token", got)
		}
		q := r.URL.Query()
		if got := q.Get("since"); got != since.Format(time.RFC3339Nano) {
			t.Errorf("since = %q, want %q", got, since.Format(time.RFC3339Nano))
		}
		if q.Get("include_deleted") != "true" || q.Get("page") != "2" || q.Get("per_page") != "100" {
			t.Errorf("query = %s, want include_deleted/page/per_page set", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "srv-1", "title": "hello", "updated_at": "2026-02-14T11:00:00Z", "created_at": "2026-02-14T10:00:00Z"},
			},
			"has_more": true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.Nop())
	c.SetTokens(NewTokenSource(TokenPair{AccessToken: access, RefreshToken: "r1"}, c.RefreshTokens, nil, zerolog.Nop()))

	notes, hasMore, err := c.ListNotes(context.Background(), ListQuery{
		Since:          &since,
		IncludeDeleted: true,
		Page:           2,
		PerPage:        100,
	})
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "srv-1" {
		t.Fatalf("got %d notes, want the one served", len(notes))
	}
	if !hasMore {
		t.Error("hasMore = false, want true")
	}
}

func TestClient_CreateNote(t *testing.T) {
	access := testJWT(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/notes" {
			t.Errorf("got %s %s, want POST /api/v1/notes", r.Method, r.URL.Path)
		}
		var in NoteDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		in.ID = "srv-99"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.Nop())
	c.SetTokens(NewTokenSource(TokenPair{AccessToken: access, RefreshToken: "r1"}, c.RefreshTokens, nil, zerolog.Nop()))

	out, err := c.CreateNote(context.Background(), NoteDTO{Title: "fresh"})
	if err != nil {
		t.Fatalf("CreateNote() failed: %v", err)
	}
	if out.ID != "srv-99" {
		t.Errorf("server id = %q, want srv-99", out.ID)
	}
	if out.Title != "fresh" {
		t.Errorf("title = %q, want fresh", out.Title)
	}
}

func TestClient_RetriesOnceAfter401(t *testing.T) {
	oldAccess := testJWT(t, time.Hour) // looks fresh, but the server revoked it
	// A different expiry keeps the bytes distinct from oldAccess; identical
	// claims would mint the very token the server just refused.
	newAccess := testJWT(t, 2*time.Hour)

	var refreshCalls, noteCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/refresh":
			atomic.AddInt32(&refreshCalls, 1)
			json.NewEncoder(w).Encode(TokenPair{AccessToken: newAccess, RefreshToken: "r2", ExpiresIn: 3600})
		case "/api/v1/notes":
			atomic.AddInt32(&noteCalls, 1)
			if r.Header.Get("Authorization") == "Bearer "+oldAccess {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer "+newAccess {
				t.Errorf("retry authorization = %q, want the refreshed token", got)
			}
			json.NewEncoder(w).Encode(map[string]any{"items": []NoteDTO{}, "has_more": false})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.Nop())
	c.SetTokens(NewTokenSource(TokenPair{AccessToken: oldAccess, RefreshToken: "r1"}, c.RefreshTokens, nil, zerolog.Nop()))

	if _, _, err := c.ListNotes(context.Background(), ListQuery{}); err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if n := atomic.LoadInt32(&noteCalls); n != 2 {
		t.Errorf("note calls = %d, want 2 (original + one retry)", n)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	access := testJWT(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"detail": "version conflict"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.Nop())
	c.SetTokens(NewTokenSource(TokenPair{AccessToken: access, RefreshToken: "r"}, c.RefreshTokens, nil, zerolog.Nop()))

	_, err := c.CreateNote(context.Background(), NoteDTO{Title: "x"})
	if err == nil {
		t.Fatal("CreateNote() succeeded, want a conflict error")
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %T, want *HTTPError", err)
	}
	if he.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", he.StatusCode)
	}
	if he.Message != "version conflict" {
		t.Errorf("message = %q, want the server detail", he.Message)
	}
	if !IsPermanent(err) {
		t.Error("IsPermanent() = false for 409, want true")
	}
	if IsRetryable(err) {
		t.Error("IsRetryable() = true for 409, want false")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		permanent bool
		auth      bool
	}{
		{"network failure", errors.New("dial tcp: connection refused"), true, false, false},
		{"server error", &HTTPError{StatusCode: 500}, true, false, false},
		{"bad gateway", &HTTPError{StatusCode: 502}, true, false, false},
		{"throttled", &HTTPError{StatusCode: 429}, true, false, false},
		{"not found", &HTTPError{StatusCode: 404}, false, true, false},
		{"conflict", &HTTPError{StatusCode: 409}, false, true, false},
		{"gone", &HTTPError{StatusCode: 410}, false, true, false},
		{"unprocessable", &HTTPError{StatusCode: 422}, false, true, false},
		{"unauthorized", &HTTPError{StatusCode: 401}, false, false, true},
		{"forbidden", &HTTPError{StatusCode: 403}, false, false, true},
		{"nil", nil, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.permanent)
			}
			if got := IsAuth(tt.err); got != tt.auth {
				t.Errorf("IsAuth() = %v, want %v", got, tt.auth)
			}
		})
	}
}

func TestClient_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" {
			t.Errorf("path = %s, want /api/v1/auth/login", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("login must not carry a bearer token")
		}
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["email"] != "dana@example.com" || in["password"] != "hunter2" {
			t.Errorf("credentials = %v", in)
		}
		json.NewEncoder(w).Encode(TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: 900})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.Nop())
	pair, err := c.Login(context.Background(), "dana@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if pair.AccessToken != "a" || pair.RefreshToken != "r" || pair.ExpiresIn != 900 {
		t.Errorf("pair = %+v", pair)
	}
}
