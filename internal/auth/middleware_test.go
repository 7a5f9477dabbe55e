package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/friendsincode/ripple/internal/models"
)

func issue(t *testing.T, v *Verifier) string {
	t.Helper()
	token, err := v.Issue(models.Principal{ID: "u1", Username: "sam"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func TestRequired_AcceptsBearerToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	token := issue(t, v)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || p.ID != "u1" {
			t.Fatalf("expected principal in context, got %+v", p)
		}
		if viewer := Viewer(r.Context()); viewer == nil || viewer.ID != "u1" {
			t.Fatalf("expected viewer u1, got %+v", viewer)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms/r1/queue", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	Required(v)(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRequired_RejectsQueryTokenOutsideWebSocket(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	token := issue(t, v)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms/r1/skip?token="+token, nil)
	rr := httptest.NewRecorder()

	Required(v)(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for query token auth, got %d", rr.Code)
	}
}

func TestOptional_AcceptsQueryTokenForWebSocketUpgrade(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	token := issue(t, v)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		if p.Guest || p.ID != "u1" {
			t.Fatalf("expected authenticated principal, got %+v", p)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/r1/ws?token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()

	Optional(v)(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestOptional_GuestWithoutToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.Guest {
			t.Fatalf("expected guest principal, got %+v", p)
		}
		if Viewer(r.Context()) != nil {
			t.Fatal("guests have no viewer identity")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/r1/queue", nil)
	rr := httptest.NewRecorder()
	Optional(v)(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rooms/r1/queue", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	rr = httptest.NewRecorder()
	Optional(v)(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rr.Code)
	}
}
