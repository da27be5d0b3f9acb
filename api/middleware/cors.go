package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{"http://localhost:3000"}

const corsMaxAge = 5 * time.Minute

// CORS allows the teacher and admin dashboards to call the api with
// credentials and to read the request id and replay marker.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, replayHeader},
		AllowCredentials: true,
		MaxAge:           int(corsMaxAge.Seconds()),
	})
}
