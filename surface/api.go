package surface

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docpeek/api"
	"github.com/hazyhaar/docpeek/kit"
)

func (s *Server) serve(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	ctx := kit.WithTransport(r.Context(), "http")
	resp, err := ep(ctx, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// GET /api/classify?url=
func (s *Server) apiClassify(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.endpoints.Classify, &api.ClassifyRequest{URL: r.URL.Query().Get("url")})
}

// POST /api/open
func (s *Server) apiOpen(w http.ResponseWriter, r *http.Request) {
	var req api.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	s.serve(w, r, s.endpoints.Open, &req)
}

// GET /api/sessions
func (s *Server) apiSessions(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.endpoints.Sessions, &api.SessionsRequest{})
}

// DELETE /api/sessions/{id}
func (s *Server) apiClose(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.endpoints.Close, &api.CloseRequest{ID: chi.URLParam(r, "id")})
}

// GET /api/history?limit=&offset=&kind=&failed=1
func (s *Server) apiHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.serve(w, r, s.endpoints.History, &api.HistoryRequest{
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
		Kind:   q.Get("kind"),
		Failed: q.Get("failed") == "1" || q.Get("failed") == "true",
	})
}
