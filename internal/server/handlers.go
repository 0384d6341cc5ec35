package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
)

const maxCreateBody = 1 << 20

// CreatePenRequest is the body of POST /pens. Either a lesson pen or
// explicit sources; an empty request starts from the default snippets.
type CreatePenRequest struct {
	Lesson string `json:"lesson,omitempty"`
	Pen    string `json:"pen,omitempty"`
	HTML   string `json:"html,omitempty"`
	CSS    string `json:"css,omitempty"`
	JS     string `json:"js,omitempty"`
	// AutoRun overrides the lesson and server defaults.
	AutoRun *bool `json:"autorun,omitempty"`
	// Normalize expands escaped \n, \t, \" and \\ in the sources.
	Normalize bool `json:"normalize,omitempty"`
}

// CreatePenResponse is returned by POST /pens.
type CreatePenResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ConsoleResponse is returned by GET /pens/{id}/console.
type ConsoleResponse struct {
	Run     uint64                   `json:"run"`
	Entries []tinkerpen.ConsoleEntry `json:"entries"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{Title: "Lessons"}
	if s.catalog != nil {
		data.Dir = s.catalog.Dir()
		for _, e := range s.catalog.Lessons() {
			data.Lessons = append(data.Lessons, lessonLink{
				Slug:        e.Slug,
				Title:       e.Lesson.Title,
				Description: e.Lesson.Description,
				Tags:        e.Lesson.Tags,
				Pens:        len(e.Lesson.Pens),
			})
		}
		for _, err := range s.catalog.Errors() {
			data.Errors = append(data.Errors, formatLessonError(err))
		}
	}
	s.render(w, "index", data)
}

func formatLessonError(err error) string {
	var lessonErr *tinkerpen.LessonError
	if errors.As(err, &lessonErr) {
		return lessonErr.Format()
	}
	return err.Error()
}

func (s *Server) handleLesson(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.NotFound(w, r)
		return
	}
	entry, ok := s.catalog.Lesson(strings.TrimSuffix(r.PathValue("slug"), "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	data := lessonData{
		Title:       entry.Lesson.Title,
		Description: entry.Lesson.Description,
		Prose:       template.HTML(entry.Prose), // sanitized by the catalog
	}
	for _, seed := range entry.Lesson.Pens {
		data.Pens = append(data.Pens, s.penView(nil, entry.Slug, seed.ID, seed.AutoRun || s.cfg.Playground.AutoRun))
	}
	s.render(w, "lesson", data)
}

func (s *Server) handleCreatePen(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCreateBody)

	req, err := decodeCreatePen(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	spec, status, err := s.penSpec(req)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}

	session, err := s.sessions.Create(r.Context(), spec)
	if err != nil {
		s.logger.Error("failed to create pen", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to create pen")
		return
	}

	url := "/pens/" + session.ID
	if !wantsJSON(r) {
		http.Redirect(w, r, url, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, CreatePenResponse{SessionID: session.ID, URL: url})
}

func decodeCreatePen(r *http.Request) (CreatePenRequest, error) {
	var req CreatePenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON: %w", err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form: %w", err)
	}
	req.Lesson = r.PostFormValue("lesson")
	req.Pen = r.PostFormValue("pen")
	req.HTML = r.PostFormValue("html")
	req.CSS = r.PostFormValue("css")
	req.JS = r.PostFormValue("js")
	return req, nil
}

func wantsJSON(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json" || strings.Contains(r.Header.Get("Accept"), "application/json")
}

// penSpec resolves a create request to the pen's seed.
func (s *Server) penSpec(req CreatePenRequest) (PenSpec, int, error) {
	spec := PenSpec{
		Lesson:    req.Lesson,
		PenID:     req.Pen,
		AutoRun:   req.AutoRun,
		Normalize: req.Normalize,
	}

	if req.Lesson == "" {
		spec.Sources = tinkerpen.Sources{HTML: req.HTML, CSS: req.CSS, JS: req.JS}
		if spec.Sources == (tinkerpen.Sources{}) {
			spec.Sources = tinkerpen.DefaultSources()
		}
		return spec, 0, nil
	}

	if s.catalog == nil {
		return spec, http.StatusNotFound, fmt.Errorf("lesson %q not found", req.Lesson)
	}
	entry, ok := s.catalog.Lesson(req.Lesson)
	if !ok {
		return spec, http.StatusNotFound, fmt.Errorf("lesson %q not found", req.Lesson)
	}

	var seed *tinkerpen.PenSeed
	if req.Pen == "" && len(entry.Lesson.Pens) > 0 {
		seed = entry.Lesson.Pens[0]
	} else {
		seed, ok = entry.Lesson.Pen(req.Pen)
		if !ok {
			return spec, http.StatusNotFound, fmt.Errorf("pen %q not found in lesson %q", req.Pen, req.Lesson)
		}
	}

	spec.PenID = seed.ID
	spec.Sources = seed.Sources
	if spec.AutoRun == nil && seed.AutoRun {
		spec.AutoRun = boolPtr(true)
	}
	return spec, 0, nil
}

func (s *Server) handlePen(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	s.render(w, "pen", penData{
		Title: "Pen",
		Pen:   s.penView(session, session.Lesson, session.PenID, false),
	})
}

// handlePreview serves the preview document standalone. The sandbox is
// expressed as a CSP header since there is no iframe attribute to carry it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	run, doc := session.Snapshot()
	if run.Seq == 0 {
		pen := session.Pen()
		doc = tinkerpen.Assemble(pen.Sources(), tinkerpen.BridgeConfig{
			Name:    pen.BridgeName(),
			Session: pen.ID(),
		})
	}

	policy := "sandbox " + tinkerpen.SandboxPolicy
	if session.Headless() {
		policy = "sandbox"
	}
	w.Header().Set("Content-Security-Policy", policy)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(doc))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	data, err := session.Pen().Export()
	if err != nil {
		s.logger.Error("export failed", zap.String("pen", session.ID), zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	s.metrics.Exports.Inc()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.ID+".zip"))
	w.Write(data)
}

func (s *Server) handleExportTab(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	tab, err := tinkerpen.ParseTab(r.PathValue("tab"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.metrics.Exports.Inc()

	contentType := mime.TypeByExtension("." + tab.Extension())
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "snippet."+tab.Extension()))
	w.Write([]byte(session.Pen().Sources().Get(tab)))
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	entries := session.Pen().Console()
	if entries == nil {
		entries = []tinkerpen.ConsoleEntry{}
	}
	writeJSON(w, http.StatusOK, ConsoleResponse{Run: session.Pen().Seq(), Entries: entries})
}

// session resolves {id}, writing a 404 when the pen is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	session, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		if wantsJSON(r) {
			writeJSONError(w, http.StatusNotFound, err.Error())
		} else {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
		return nil, false
	}
	return session, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
