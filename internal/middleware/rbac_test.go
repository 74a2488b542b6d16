package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/auth"
)

func rbacTestRouter(roles ...string) *gin.Engine {
	r := gin.New()
	r.GET("/admin", RequireAuth(nil), RequireRole(nil, roles...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func cookieForRole(t *testing.T, role string) *http.Cookie {
	t.Helper()
	token, err := auth.CreateSessionToken(auth.Identity{UserID: 7, Username: "someone", Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint session token: %v", err)
	}
	return &http.Cookie{Name: SessionCookieName, Value: token}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		role       string
		wantStatus int
	}{
		{"admin allowed on admin endpoint", []string{auth.RoleAdmin}, auth.RoleAdmin, http.StatusOK},
		{"therapist blocked from admin endpoint", []string{auth.RoleAdmin}, auth.RoleTherapist, http.StatusForbidden},
		{"staff blocked from admin endpoint", []string{auth.RoleAdmin}, auth.RoleStaff, http.StatusForbidden},
		{"any listed role allowed", []string{auth.RoleAdmin, auth.RoleTherapist}, auth.RoleTherapist, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rbacTestRouter(tt.allowed...)
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
			req.AddCookie(cookieForRole(t, tt.role))
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				if body := w.Body.String(); body != `{"error":"Insufficient permissions"}` {
					t.Errorf("unexpected body %s", body)
				}
			}
		})
	}

	t.Run("no identity in context is rejected", func(t *testing.T) {
		r := gin.New()
		r.GET("/admin", RequireRole(nil, auth.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})
}
