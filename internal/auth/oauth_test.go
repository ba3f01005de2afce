package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"
)

// newFakeGitHub serves the two endpoints Exchange touches: the token
// endpoint and /user. userStatus controls the /user response code.
func newFakeGitHub(t *testing.T, userStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"bad_verification_code"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"gho_test","token_type":"bearer"}`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(userStatus)
		fmt.Fprint(w, `{"id":583231,"login":"octocat","name":"The Octocat","avatar_url":"https://avatars.example/u/583231"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGitHubProvider(srv *httptest.Server) *GitHubProvider {
	return NewGitHubProvider("client-id", "client-secret", "http://localhost:8000/api/oauth/callback/github",
		WithGitHubEndpoint(oauth2.Endpoint{
			AuthURL:  srv.URL + "/login/oauth/authorize",
			TokenURL: srv.URL + "/login/oauth/access_token",
		}),
		WithGitHubAPIURL(srv.URL+"/"),
	)
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost:8000/api/oauth/callback/github")

	u, err := url.Parse(p.AuthURL("state-123"))
	if err != nil {
		t.Fatalf("AuthURL() is not a URL: %v", err)
	}
	if u.Host != "github.com" {
		t.Errorf("AuthURL() host = %q, want github.com", u.Host)
	}
	q := u.Query()
	if q.Get("state") != "state-123" || q.Get("client_id") != "client-id" {
		t.Errorf("AuthURL() query = %v", q)
	}
	if q.Get("redirect_uri") != "http://localhost:8000/api/oauth/callback/github" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if p.Name() != "github" {
		t.Errorf("Name() = %q, want github", p.Name())
	}
}

func TestGitHubProvider_Exchange(t *testing.T) {
	p := newTestGitHubProvider(newFakeGitHub(t, http.StatusOK))

	profile, err := p.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	want := ExternalProfile{
		ID:        "583231",
		Login:     "octocat",
		Name:      "The Octocat",
		AvatarURL: "https://avatars.example/u/583231",
	}
	if *profile != want {
		t.Errorf("Exchange() = %+v, want %+v", *profile, want)
	}
}

func TestGitHubProvider_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		userStatus int
	}{
		{"bad code", "bad-code", http.StatusOK},
		{"user api error", "good-code", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestGitHubProvider(newFakeGitHub(t, tt.userStatus))

			_, err := p.Exchange(context.Background(), tt.code)
			if !errors.Is(err, ErrProvider) {
				t.Errorf("Exchange() error = %v, want ErrProvider", err)
			}
		})
	}
}
