package surface

import (
	"errors"
	"html/template"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docpeek/api"
	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/horosafe"
	"github.com/hazyhaar/docpeek/render"
	"github.com/hazyhaar/docpeek/retrieve"
	"github.com/hazyhaar/docpeek/session"
	"github.com/hazyhaar/docpeek/shield"
)

type viewerData struct {
	Name      string
	URL       string
	Paginated bool
	Page      int
	Total     int
	Content   template.HTML
	Flash     *shield.FlashMessage
}

type indexEntry struct {
	Name    string
	Kind    classify.Kind
	Surface string
	Page    int
	Total   int
}

// lookup resolves the {id} route parameter. Unknown and closed sessions
// get a 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var entries []indexEntry
	for _, sess := range s.sessions.List() {
		page, total := sess.Position()
		entries = append(entries, indexEntry{
			Name:    sess.Name(),
			Kind:    sess.Kind(),
			Surface: api.SurfacePath(sess.ID),
			Page:    page,
			Total:   total,
		})
	}
	s.render(w, r, "index.html", entries)
}

// GET /surface/{id}/
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	content, err := sess.Content()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	page, total := sess.Position()
	s.render(w, r, "viewer.html", viewerData{
		Name:      sess.Name(),
		URL:       sess.Request.URL,
		Paginated: sess.Paginated() && total > 0,
		Page:      page,
		Total:     total,
		Content:   content,
		Flash:     shield.GetFlash(r.Context()),
	})
}

// POST /surface/{id}/next and /prev
func (s *Server) handleMove(forward bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.lookup(w, r)
		if !ok {
			return
		}
		move := sess.Prev
		if forward {
			move = sess.Next
		}
		path := api.SurfacePath(sess.ID)
		if _, err := move(r.Context()); err != nil {
			if errors.Is(err, session.ErrClosed) {
				http.NotFound(w, r)
				return
			}
			shield.GetLogger(r.Context()).Warn("surface: navigation failed", "session", sess.ID, "error", err)
			shield.SetFlash(w, path, "error", "Could not change page: "+err.Error())
		}
		http.Redirect(w, r, path, http.StatusSeeOther)
	}
}

// POST /surface/{id}/close
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	name := sess.Name()
	if err := s.sessions.Close(sess); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.render(w, r, "closed.html", name)
}

// GET /surface/{id}/download
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	data, ct, err := sess.Artifact()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": horosafe.HeaderFileName(sess.Name())}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// GET /surface/{id}/raster/{page}.pdf
func (s *Server) handleRaster(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	num, found := strings.CutSuffix(chi.URLParam(r, "file"), ".pdf")
	page, err := strconv.Atoi(num)
	if !found || err != nil || page < 1 {
		http.NotFound(w, r)
		return
	}
	data, err := sess.Raster(r.Context(), page)
	var pr *render.ErrPageRange
	switch {
	case errors.Is(err, session.ErrNoRaster), errors.Is(err, session.ErrClosed), errors.As(err, &pr):
		http.NotFound(w, r)
		return
	case err != nil:
		shield.GetLogger(r.Context()).Error("surface: raster", "session", sess.ID, "page", page, "error", err)
		http.Error(w, "page could not be exported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// GET /open?url=
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if !classify.IsSupported(target) {
		if err := horosafe.CheckScheme(target); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	if s.dispatcher == nil {
		http.Error(w, "opening documents is disabled", http.StatusServiceUnavailable)
		return
	}

	sess, err := s.dispatcher.Dispatch(r.Context(), target)
	if err != nil {
		code := http.StatusInternalServerError
		var fe *retrieve.FetchError
		if errors.As(err, &fe) {
			code = http.StatusBadGateway
		}
		http.Error(w, dispatch.AlertMessage(err), code)
		return
	}
	http.Redirect(w, r, api.SurfacePath(sess.ID), http.StatusSeeOther)
}
