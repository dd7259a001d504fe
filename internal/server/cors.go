// cors.go - CORS policy stage.
//
// Origins come from GH_CORS_ORIGINS. A request from an origin outside
// the list simply gets no CORS headers; the browser enforces the rest.
// Preflight OPTIONS requests complete here and never reach the rate
// limiter or dispatch.
package server

import "net/http"

const corsMaxAge = "600"

// applyCORS writes CORS headers for allowed origins and answers
// preflights. It reports true when the request was completed here.
func applyCORS(w http.ResponseWriter, r *http.Request, origins []string) bool {
	origin := r.Header.Get("Origin")
	if origin != "" && originAllowed(origin, origins) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
		w.Header().Set("Access-Control-Max-Age", corsMaxAge)
	}

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func originAllowed(origin string, origins []string) bool {
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
