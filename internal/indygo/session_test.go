package indygo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestSession(t *testing.T, baseURL string) *Session {
	t.Helper()
	s, err := NewSession(baseURL, "user@example.com", "secret", testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestLoginRedirectIsSuccess(t *testing.T) {
	var sawForm atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		if r.PostFormValue("email") == "user@example.com" && r.PostFormValue("password") == "secret" {
			sawForm.Store(true)
		}
		http.Redirect(w, r, "/pools", http.StatusFound)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !sawForm.Load() {
		t.Error("Expected credentials in login form")
	}
}

func TestLoginAmbiguous200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	// A 200 is ambiguous vendor behavior: logged, not fatal.
	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("Expected 200 login to pass without error, got %v", err)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	err := s.Login(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthenticationError, got %T: %v", err, err)
	}
}

// A request that keeps getting 401 must re-login exactly once and then give
// up with a CommunicationError instead of looping.
func TestRequestRetriesOnceOnExpiredSession(t *testing.T) {
	var logins, dataRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			logins.Add(1)
			http.Redirect(w, r, "/pools", http.StatusFound)
		default:
			dataRequests.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.Get(context.Background(), "/pools/1/devices", nil)

	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("Expected CommunicationError, got %T: %v", err, err)
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("Expected exactly 1 re-login attempt, got %d", got)
	}
	if got := dataRequests.Load(); got != 2 {
		t.Errorf("Expected original request plus one retry, got %d", got)
	}
}

func TestRequestRecoversAfterRelogin(t *testing.T) {
	var authorized atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			authorized.Store(true)
			http.Redirect(w, r, "/pools", http.StatusFound)
		default:
			if !authorized.Load() {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte("page content"))
		}
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	body, err := s.Get(context.Background(), "/pools/1/devices", nil)
	if err != nil {
		t.Fatalf("Expected transparent re-login to recover, got %v", err)
	}
	if string(body) != "page content" {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestRequestSendsBrowserHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("Expected browser user agent, got %q", ua)
		}
		if xrw := r.Header.Get("X-Requested-With"); xrw != "XMLHttpRequest" {
			t.Errorf("Expected XHR header, got %q", xrw)
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	if _, err := s.Get(context.Background(), "/module/poolData/A/R", xhrHeaders); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}

func TestRequestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream broke"))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.Get(context.Background(), "/pools/1/devices", nil)

	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("Expected CommunicationError, got %T: %v", err, err)
	}
	if commErr.Status != http.StatusBadGateway {
		t.Errorf("Expected status 502 in error, got %d", commErr.Status)
	}
	if commErr.Body != "upstream broke" {
		t.Errorf("Expected response body carried for diagnostics, got %q", commErr.Body)
	}
}

func TestIsSessionExpired(t *testing.T) {
	tests := []struct {
		name    string
		resp    *http.Response
		expired bool
	}{
		{"401", &http.Response{StatusCode: http.StatusUnauthorized}, true},
		{"403", &http.Response{StatusCode: http.StatusForbidden}, true},
		{
			name: "redirect to login",
			resp: &http.Response{
				StatusCode: http.StatusFound,
				Header:     http.Header{"Location": []string{"/login?next=%2Fpools"}},
			},
			expired: true,
		},
		{"plain 200", &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}, false},
		{
			name: "redirect elsewhere",
			resp: &http.Response{
				StatusCode: http.StatusFound,
				Header:     http.Header{"Location": []string{"/pools/1"}},
			},
			expired: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.resp.Header == nil {
				tt.resp.Header = http.Header{}
			}
			if got := isSessionExpired(tt.resp); got != tt.expired {
				t.Errorf("Expected expired=%v, got %v", tt.expired, got)
			}
		})
	}
}
