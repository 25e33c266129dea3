package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// echoUser writes the user ID RequireAuth stored in the context.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(id))
})

func TestRequireAuth(t *testing.T) {
	s := newTestSessionIssuer(t)
	valid, _ := s.Issue("user-123")
	expired, _ := s.issue("user-123", -time.Minute)

	tests := []struct {
		name       string
		header     string
		cookie     string
		wantStatus int
		wantBody   string
	}{
		{"bearer header", "Bearer " + valid, "", http.StatusOK, "user-123"},
		{"lowercase scheme", "bearer " + valid, "", http.StatusOK, "user-123"},
		{"cookie fallback", "", valid, http.StatusOK, "user-123"},
		{"header wins over cookie", "Bearer garbage", valid, http.StatusUnauthorized, unauthorizedBody},
		{"no credentials", "", "", http.StatusUnauthorized, unauthorizedBody},
		{"wrong scheme", "Basic " + valid, "", http.StatusUnauthorized, unauthorizedBody},
		{"scheme only", "Bearer", "", http.StatusUnauthorized, unauthorizedBody},
		{"expired token", "Bearer " + expired, "", http.StatusUnauthorized, unauthorizedBody},
	}

	handler := RequireAuth(s)(echoUser)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/user/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if id, ok := UserIDFromContext(req.Context()); ok || id != "" {
		t.Errorf("UserIDFromContext() = (%q, %v), want (\"\", false)", id, ok)
	}
	if _, ok := UserIDFromContext(WithUserID(req.Context(), "")); ok {
		t.Error("an empty user ID should not count as authenticated")
	}
}
