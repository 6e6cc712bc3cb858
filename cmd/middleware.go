package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"microtrax/utils"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxAdmin     ctxKey = "admin"
	ctxAPIKey    ctxKey = "api_key"
)

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

func makeResponseJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (app *application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.infoLog.Printf("%s - %s %s %s", r.RemoteAddr, r.Proto, r.Method, r.URL.RequestURI())
		next.ServeHTTP(w, r)
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				app.serverError(w, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID keeps the caller's X-Request-ID or assigns one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAPIKey admits game servers whose X-API-Key matches one of the
// configured bcrypt hashes. The matching hash's position is stored in the
// context so later limiters never see the raw key.
func (app *application) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if key == "" {
			app.clientError(w, http.StatusUnauthorized, "API key required")
			return
		}
		for i, h := range app.apiKeyHashes {
			if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
				ctx := context.WithValue(r.Context(), ctxAPIKey, strconv.Itoa(i))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		app.clientError(w, http.StatusUnauthorized, "Invalid API key")
	})
}

// requireAdmin checks the Bearer token issued by -issue-admin-token.
func (app *application) requireAdmin(next http.Handler) http.Handler {
	return app.adminAuth(next, false)
}

// requireAdminStream is requireAdmin for WebSocket upgrades. Browsers cannot
// set headers on the handshake, so ?token= is accepted too.
func (app *application) requireAdminStream(next http.Handler) http.Handler {
	return app.adminAuth(next, true)
}

func (app *application) adminAuth(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if allowQuery {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			app.clientError(w, http.StatusUnauthorized, "Authorization header missing or invalid")
			return
		}
		claims, err := app.tokens.Parse(token)
		if err != nil {
			app.clientError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		if claims.Role != utils.RoleAdmin {
			app.clientError(w, http.StatusForbidden, "Forbidden: only admins allowed")
			return
		}
		ctx := context.WithValue(r.Context(), ctxAdmin, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
