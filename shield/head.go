package shield

import "net/http"

// HeadToGet serves HEAD through the GET routes, so link checkers probing
// a surface or download URL get its status and headers. The body the
// handler writes is dropped before it reaches the connection.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		get := r.Clone(r.Context())
		get.Method = http.MethodGet
		next.ServeHTTP(headWriter{w}, get)
	})
}

type headWriter struct {
	http.ResponseWriter
}

func (h headWriter) Write(p []byte) (int, error) { return len(p), nil }
