package ui

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wg-sso-gateway/controlplane/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

type LeaseLister interface {
	Leases() []model.Lease
}

type Handler struct {
	sessions  LeaseLister
	templates *template.Template
	now       func() time.Time
}

func NewHandler(sessions LeaseLister) (*Handler, error) {
	tmpl, err := template.New("").ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{sessions: sessions, templates: tmpl, now: time.Now}, nil
}

type finishPage struct {
	Code        string
	Error       string
	Description string
}

type sessionsPage struct {
	Now    time.Time
	Leases []model.Lease
}

// FinishPage is where the identity provider redirects the browser. It shows
// the authorization code for the user to hand to the agent.
func (h *Handler) FinishPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := finishPage{
		Code:        q.Get("code"),
		Error:       q.Get("error"),
		Description: q.Get("error_description"),
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	status := http.StatusOK
	if page.Error != "" || page.Code == "" {
		status = http.StatusBadRequest
	}
	h.render(w, status, "finish.html", page)
}

// AdminRoutes serves the admin pages; the caller mounts them behind
// authentication.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.sessionsPage)
	return r
}

func (h *Handler) sessionsPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "sessions.html", sessionsPage{
		Now:    h.now().UTC(),
		Leases: h.sessions.Leases(),
	})
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
