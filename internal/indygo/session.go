package indygo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	loginPath      = "/login"
	defaultTimeout = 30 * time.Second

	// The portal rejects clients it does not recognize, so requests carry a
	// realistic browser user agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Session is the authenticated HTTP session against the vendor portal. There
// is no token API; authentication state lives entirely in the cookie jar and
// validity is inferred per-request from the response shape. One Session is
// shared by all calls for a configured account and must be closed when done.
type Session struct {
	baseURL  string
	email    string
	password string

	// client follows redirects so scraped pages land on their final URL;
	// loginClient shares the same jar but stops at the first response,
	// because the login form signals success with a redirect we must not
	// follow.
	client      *http.Client
	loginClient *http.Client

	logger *log.Logger
}

// NewSession creates a session for one portal account. baseURL has no
// trailing slash, e.g. "https://myindygo.com".
func NewSession(baseURL, email, password string, logger *log.Logger) (*Session, error) {
	if baseURL == "" || email == "" || password == "" {
		return nil, errors.New("baseURL, email and password are required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Session{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		email:    email,
		password: password,
		client: &http.Client{
			Jar:     jar,
			Timeout: defaultTimeout,
		},
		loginClient: &http.Client{
			Jar:     jar,
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// Login posts the credential form. The portal signals success with a
// redirect; a plain 200 is ambiguous (already authenticated, or the login
// page re-rendered after a failure) and is logged but not treated as fatal —
// the next data request will expose an invalid session anyway.
func (s *Session) Login(ctx context.Context) error {
	form := url.Values{
		"email":    {s.email},
		"password": {s.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+loginPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return &CommunicationError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.loginClient.Do(req)
	if err != nil {
		return &CommunicationError{Op: "login", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		s.logger.Printf("[Session] Login accepted (redirect to %s)", resp.Header.Get("Location"))
		return nil
	case resp.StatusCode == http.StatusOK:
		s.logger.Printf("[Session] Login returned 200; possibly already authenticated or rejected credentials")
		return nil
	default:
		return &AuthenticationError{Reason: fmt.Sprintf("login returned status %d", resp.StatusCode)}
	}
}

// Get issues an authenticated GET and returns the response body.
func (s *Session) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	return s.do(ctx, http.MethodGet, path, nil, headers, true)
}

// Send issues an authenticated request with a JSON body and returns the
// response body.
func (s *Session) Send(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	return s.do(ctx, method, path, body, headers, true)
}

// do performs one logical request. When the response looks like an expired
// session and retry is still allowed, it re-logs-in and replays the request
// exactly once; the retry flag is cleared on the replay so a persistently
// broken session terminates instead of recursing.
func (s *Session) do(ctx context.Context, method, path string, body []byte, headers map[string]string, allowRetry bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, &CommunicationError{Op: method + " " + path, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &CommunicationError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CommunicationError{Op: method + " " + path, Err: err}
	}

	if isSessionExpired(resp) {
		if !allowRetry {
			return nil, &CommunicationError{
				Op:     method + " " + path,
				Status: resp.StatusCode,
				Body:   string(data),
			}
		}
		s.logger.Printf("[Session] Session expired on %s %s, re-authenticating", method, path)
		if err := s.Login(ctx); err != nil {
			return nil, err
		}
		return s.do(ctx, method, path, body, headers, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CommunicationError{
			Op:     method + " " + path,
			Status: resp.StatusCode,
			Body:   string(data),
		}
	}

	return data, nil
}

// isSessionExpired decides whether a response is really a disguised "please
// log in". The portal is inconsistent: sometimes a 401/403, sometimes a
// redirect whose Location is the login page, sometimes a 200 whose final URL
// (after redirects) landed on the login page. Keeping the heuristic in one
// predicate keeps it testable.
func isSessionExpired(resp *http.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return true
	}
	if loc := resp.Header.Get("Location"); loc != "" && strings.Contains(loc, loginPath) {
		return true
	}
	if resp.Request != nil && resp.Request.URL != nil &&
		strings.Contains(resp.Request.URL.Path, loginPath) {
		return true
	}
	return false
}

// Close releases the session's idle connections. The cookie jar is dropped
// with the session itself.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
	s.loginClient.CloseIdleConnections()
}
