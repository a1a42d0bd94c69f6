package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareIssuesAndReusesVisitorCookie(t *testing.T) {
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = VisitorIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !isValidVisitorID(seen) {
		t.Fatalf("expected a generated visitor id, got %q", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != seen || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	first := seen
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: first})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != first {
		t.Fatalf("expected cookie reuse, got %q want %q", seen, first)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "forged"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "forged" {
		t.Fatal("invalid cookie value must be replaced")
	}
}

func TestSessionIDFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header  string
		query   string
		want    string
		wantErr error
	}{
		{"header wins", "abc-123", "other", "abc-123", nil},
		{"query fallback", "", "q-1", "q-1", nil},
		{"trims", " s-1 ", "", "s-1", nil},
		{"rejects junk", "<script>", "", "", ErrInvalidSessionID},
		{"rejects overlong", strings.Repeat("a", 129), "", "", ErrInvalidSessionID},
		{"empty", "", "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?sessionId="+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(SessionHeaderName, tt.header)
			}
			got, err := SessionIDFromRequest(req)
			if got != tt.want || !errors.Is(err, tt.wantErr) {
				t.Fatalf("SessionIDFromRequest = %q, %v; want %q, %v", got, err, tt.want, tt.wantErr)
			}
		})
	}
}
