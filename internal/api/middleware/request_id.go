package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestID injects a request ID into each request's context, delegating
// to chi's built-in middleware so handlers and the logger read the same ID.
func RequestID() func(next http.Handler) http.Handler {
	return middleware.RequestID
}
