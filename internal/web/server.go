// Package web is the thin presentation layer over the experiment core. It
// renders the participant-facing pages, holds the session cookie, and hosts
// the admin surface. It never sees the secret round before the core marks a
// session complete.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"EconLab/internal/experiment"
	"EconLab/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

const sessionCookie = "pid"

// Server bundles the handlers with their dependencies.
type Server struct {
	machine  *experiment.Machine
	store    store.Store
	adminKey string
	tmpl     *template.Template
}

// NewServer parses the embedded templates and returns a ready Server.
// An empty adminKey leaves every /admin endpoint locked.
func NewServer(m *experiment.Machine, st store.Store, adminKey string) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{machine: m, store: st, adminKey: adminKey, tmpl: tmpl}, nil
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("GET /survey", s.handleSurveyForm)
	mux.HandleFunc("POST /survey", s.handleSurveySubmit)
	mux.HandleFunc("GET /instructions", s.handleInstructions)
	mux.HandleFunc("GET /round/{n}", s.handleRoundForm)
	mux.HandleFunc("POST /round/{n}", s.handleRoundSubmit)
	mux.HandleFunc("GET /round/{n}/outcome", s.handleOutcome)
	mux.HandleFunc("GET /results", s.handleResults)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /admin", s.handleAdminHome)
	mux.HandleFunc("POST /admin/state", s.handleAdminState)
	mux.HandleFunc("POST /admin/reset", s.handleAdminReset)
	mux.HandleFunc("GET /admin/export", s.handleAdminExport)

	return mux
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("[ERROR] render %s: %v", name, err)
	}
}

// sessionID pulls the participant's session from the cookie. A missing
// cookie sends them back to the landing page.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return "", false
	}
	return c.Value, true
}

func setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
