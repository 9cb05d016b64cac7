package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"EconLab/internal/experiment"
	"EconLab/internal/model"
	"EconLab/internal/store"
)

type fakeSource struct {
	secret int
	flips  []model.Outcome
	flip   int
}

func (f *fakeSource) DrawSecretRound() int { return f.secret }

func (f *fakeSource) FlipCoin() model.Outcome {
	o := f.flips[f.flip%len(f.flips)]
	f.flip++
	return o
}

func newTestServer(t *testing.T, st store.Store, src *fakeSource) *Server {
	t.Helper()
	srv, err := NewServer(experiment.New(st, src), st, "test-key")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func doForm(mux *http.ServeMux, method, path, cookie string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: cookie})
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rec := doForm(mux, http.MethodPost, "/start", "", url.Values{})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("start: status %d, want 303", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c.Value
		}
	}
	t.Fatal("start did not set a session cookie")
	return ""
}

func TestParticipantFlow(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakeSource{secret: 4, flips: []model.Outcome{model.Heads}})
	mux := srv.Routes()

	sid := startSession(t, mux)

	// Results are gated until all rounds are played.
	rec := doForm(mux, http.MethodGet, "/results", sid, nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/round/1" {
		t.Fatalf("premature results: status %d location %q", rec.Code, rec.Header().Get("Location"))
	}

	for n := 1; n <= model.NumRounds; n++ {
		rec = doForm(mux, http.MethodPost, fmt.Sprintf("/round/%d", n), sid,
			url.Values{"x": {"40"}, "time_ms": {"1500"}})
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("round %d submit: status %d body %s", n, rec.Code, rec.Body.String())
		}
		if want := fmt.Sprintf("/round/%d/outcome", n); rec.Header().Get("Location") != want {
			t.Fatalf("round %d redirect = %q, want %q", n, rec.Header().Get("Location"), want)
		}

		rec = doForm(mux, http.MethodGet, fmt.Sprintf("/round/%d/outcome", n), sid, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("round %d outcome: status %d", n, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "secret") {
			t.Errorf("outcome page for round %d mentions the secret", n)
		}
	}

	rec = doForm(mux, http.MethodGet, "/results", sid, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("results: status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "round 4") {
		t.Errorf("results page does not reveal secret round 4:\n%s", body)
	}
	// Every flip was heads with x=40, so the payoff is 160 regardless of
	// which round was secret.
	if !strings.Contains(body, "160.0") {
		t.Errorf("results page missing payoff 160.0:\n%s", body)
	}
}

func TestRoundForm_RedirectsToActualRound(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakeSource{secret: 1, flips: []model.Outcome{model.Tails}})
	mux := srv.Routes()

	sid := startSession(t, mux)

	rec := doForm(mux, http.MethodGet, "/round/5", sid, nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/round/1" {
		t.Errorf("skip-ahead GET: status %d location %q, want redirect to /round/1",
			rec.Code, rec.Header().Get("Location"))
	}

	rec = doForm(mux, http.MethodPost, "/round/5", sid, url.Values{"x": {"10"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/round/1" {
		t.Errorf("skip-ahead POST: status %d location %q, want redirect to /round/1",
			rec.Code, rec.Header().Get("Location"))
	}
}

func TestRoundSubmit_InvalidInvestmentRePrompts(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakeSource{secret: 1, flips: []model.Outcome{model.Tails}})
	mux := srv.Routes()

	sid := startSession(t, mux)

	rec := doForm(mux, http.MethodPost, "/round/1", sid, url.Values{"x": {"150"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "between 0 and 100") {
		t.Errorf("invalid investment: status %d, body missing re-prompt", rec.Code)
	}
}

func TestStart_WhenClosed(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SetExperimentOpen(false); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, st, &fakeSource{secret: 1, flips: []model.Outcome{model.Tails}})
	mux := srv.Routes()

	rec := doForm(mux, http.MethodPost, "/start", "", url.Values{})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/?closed=1" {
		t.Errorf("closed start: status %d location %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestAdmin_KeyGate(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakeSource{secret: 1, flips: []model.Outcome{model.Tails}})
	mux := srv.Routes()

	if rec := doForm(mux, http.MethodGet, "/admin", "", nil); rec.Code != http.StatusForbidden {
		t.Errorf("admin without key: status %d, want 403", rec.Code)
	}
	if rec := doForm(mux, http.MethodGet, "/admin?key=wrong", "", nil); rec.Code != http.StatusForbidden {
		t.Errorf("admin with wrong key: status %d, want 403", rec.Code)
	}
	if rec := doForm(mux, http.MethodGet, "/admin?key=test-key", "", nil); rec.Code != http.StatusOK {
		t.Errorf("admin with right key: status %d, want 200", rec.Code)
	}
}

func TestAdmin_NoConfiguredKeyLocksEverything(t *testing.T) {
	st := store.NewMemoryStore()
	srv, err := NewServer(experiment.New(st, &fakeSource{secret: 1, flips: []model.Outcome{model.Tails}}), st, "")
	if err != nil {
		t.Fatal(err)
	}
	mux := srv.Routes()

	if rec := doForm(mux, http.MethodGet, "/admin?key=", "", nil); rec.Code != http.StatusForbidden {
		t.Errorf("empty configured key: status %d, want 403", rec.Code)
	}
}

func TestAdmin_ExportCSV(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakeSource{secret: 2, flips: []model.Outcome{model.Heads}})
	mux := srv.Routes()

	sid := startSession(t, mux)
	for n := 1; n <= model.NumRounds; n++ {
		doForm(mux, http.MethodPost, fmt.Sprintf("/round/%d", n), sid,
			url.Values{"x": {"20"}, "time_ms": {"900"}})
	}

	rec := doForm(mux, http.MethodGet, "/admin/export?key=test-key", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("export content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("export has %d lines, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,created_at,") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], ",2,") {
		t.Errorf("export row missing chosen round 2: %s", lines[1])
	}
}

func TestHealth(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakeSource{secret: 1, flips: []model.Outcome{model.Tails}})
	rec := doForm(srv.Routes(), http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("health: status %d body %s", rec.Code, rec.Body.String())
	}
}
