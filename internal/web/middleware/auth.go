package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rollmark/rollmark/internal/auth"
)

type contextKey string

const teacherContextKey contextKey = "teacher"

// RequireAuth is middleware that requires a valid bearer token and puts the
// authenticated teacher ID on the request context.
func RequireAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}

			teacherID, err := tokens.VerifyBearer(raw)
			if err != nil {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), teacherContextKey, teacherID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// TeacherFromContext retrieves the authenticated teacher ID, "" when absent.
func TeacherFromContext(ctx context.Context) string {
	teacherID, ok := ctx.Value(teacherContextKey).(string)
	if !ok {
		return ""
	}
	return teacherID
}

// SetTeacherInContext adds a teacher ID to the context.
// This is primarily for testing - use RequireAuth middleware in production.
func SetTeacherInContext(ctx context.Context, teacherID string) context.Context {
	return context.WithValue(ctx, teacherContextKey, teacherID)
}
