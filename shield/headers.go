package shield

import "net/http"

// Headers maps response header names to the value every response carries.
// An empty value leaves the header unset.
type Headers map[string]string

// DefaultHeaders suits a JSON API that never serves documents: nothing may
// be framed, sniffed or loaded, and no referrer leaks to fetched targets.
func DefaultHeaders() Headers {
	return Headers{
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
}

// SecurityHeaders sets h on every response before calling next.
func SecurityHeaders(h Headers) func(http.Handler) http.Handler {
	set := make(Headers, len(h))
	for k, v := range h {
		if v != "" {
			set[http.CanonicalHeaderKey(k)] = v
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dst := w.Header()
			for k, v := range set {
				dst.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
