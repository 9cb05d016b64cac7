package web

import (
	"crypto/subtle"
	"log"
	"net/http"

	"EconLab/internal/export"
)

// requireAdmin gates the admin surface on the shared key, passed as a query
// or form parameter. No configured key means no admin access at all.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	provided := r.URL.Query().Get("key")
	if provided == "" {
		provided = r.FormValue("key")
	}
	if s.adminKey == "" || provided == "" ||
		subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminKey)) != 1 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) handleAdminHome(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	state, err := s.store.ExperimentState()
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	sessions, decisions, err := s.store.Counts()
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	s.render(w, "admin.html", map[string]any{
		"Title":     state.Title,
		"Open":      state.IsOpen,
		"Sessions":  sessions,
		"Decisions": decisions,
		"Key":       r.URL.Query().Get("key"),
	})
}

func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	switch r.FormValue("action") {
	case "open":
		if err := s.store.SetExperimentOpen(true); err != nil {
			s.storeFailure(w, err)
			return
		}
		log.Println("[INFO] experiment opened")
	case "close":
		if err := s.store.SetExperimentOpen(false); err != nil {
			s.storeFailure(w, err)
			return
		}
		log.Println("[INFO] experiment closed")
	}
	http.Redirect(w, r, "/admin?key="+r.FormValue("key"), http.StatusSeeOther)
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if err := s.store.DeleteAllSessions(); err != nil {
		s.storeFailure(w, err)
		return
	}
	log.Println("[WARN] all sessions deleted by admin")
	http.Redirect(w, r, "/admin?key="+r.FormValue("key"), http.StatusSeeOther)
}

func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	exports, err := s.store.ListAllSessions()
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="participants.csv"`)
	if err := export.WriteCSV(w, exports); err != nil {
		log.Printf("[ERROR] csv export: %v", err)
	}
}
