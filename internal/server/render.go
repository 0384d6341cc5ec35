package server

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
)

// pages are the templates that define "content" for the shared layout.
var pages = []string{"index", "lesson", "pen"}

// penView is the data of the "pen" widget template. ID is empty for lesson
// pens, which the client creates on first view.
type penView struct {
	ID      string
	Lesson  string
	Pen     string
	Bridge  string
	Sandbox string
	AutoRun bool
}

type lessonLink struct {
	Slug        string
	Title       string
	Description string
	Tags        []string
	Pens        int
}

type indexData struct {
	Title   string
	Dir     string
	Lessons []lessonLink
	Errors  []string
}

type lessonData struct {
	Title       string
	Description string
	Prose       template.HTML
	Pens        []penView
}

type penData struct {
	Title string
	Pen   penView
}

// parseTemplates builds one template set per page: the layout and the pen
// widget, plus the page's own "content" definition.
func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	base, err := template.ParseFS(fsys, "layout.html", "widget.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	out := make(map[string]*template.Template, len(pages))
	for _, name := range pages {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(fsys, name+".html"); err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// render executes a page into a buffer first so a template error still
// produces a clean 500.
func (s *Server) render(w http.ResponseWriter, page string, data any) {
	t, ok := s.templates[page]
	if !ok {
		http.Error(w, "unknown page", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("failed to render page", zap.String("page", page), zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) penView(session *Session, lesson, penID string, autoRun bool) penView {
	v := penView{
		Lesson:  lesson,
		Pen:     penID,
		Bridge:  s.bridgeName(),
		Sandbox: tinkerpen.SandboxPolicy,
		AutoRun: autoRun,
	}
	if s.mode == SandboxHeadless {
		v.Sandbox = ""
	}
	if session != nil {
		v.ID = session.ID
		v.AutoRun = session.Pen().AutoRun()
	}
	return v
}

func (s *Server) bridgeName() string {
	if s.cfg.Playground.BridgeName != "" {
		return s.cfg.Playground.BridgeName
	}
	return tinkerpen.DefaultBridgeName
}
