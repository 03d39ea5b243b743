package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "tok",
				"user":  map[string]any{"id": 3, "full_name": "C", "email": "c@x.com", "role": "client"},
			})
		case "/auth/me":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 3, "full_name": "C", "email": "c@x.com", "role": "client"})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func gigctl(t *testing.T, srv *httptest.Server, home string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"-api", srv.URL, "-home", home}, args...)
	err := run(context.Background(), full, &out)
	return out.String(), err
}

func TestGigctl_SessionPersistsAcrossRuns(t *testing.T) {
	srv := fakeAPI(t)
	home := t.TempDir()

	out, err := gigctl(t, srv, home, "login", "c@x.com", "Aa1!aaaa")
	if err != nil || !strings.Contains(out, "signed in as c@x.com") {
		t.Fatalf("login: %q %v", out, err)
	}

	out, err = gigctl(t, srv, home, "whoami")
	if err != nil || !strings.Contains(out, "<c@x.com> client") {
		t.Fatalf("whoami: %q %v", out, err)
	}

	out, _ = gigctl(t, srv, home, "open", "client")
	if !strings.Contains(out, "open /client/overview") {
		t.Fatalf("open client: %q", out)
	}
	out, _ = gigctl(t, srv, home, "open", "freelancer")
	if !strings.Contains(out, "redirect /unauthorized") {
		t.Fatalf("open freelancer: %q", out)
	}

	if _, err := gigctl(t, srv, home, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	out, _ = gigctl(t, srv, home, "open", "client")
	if !strings.Contains(out, "redirect /login") {
		t.Fatalf("open after logout: %q", out)
	}
}

func TestGigctl_UsageErrors(t *testing.T) {
	srv := fakeAPI(t)
	home := t.TempDir()

	if _, err := gigctl(t, srv, home); err == nil {
		t.Fatal("expected error without a command")
	}
	if _, err := gigctl(t, srv, home, "login", "only-email"); err == nil {
		t.Fatal("expected error for missing password")
	}
	if _, err := gigctl(t, srv, home, "bogus"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}
