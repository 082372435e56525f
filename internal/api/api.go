// Package api is the HTTP boundary for creator actions. Authentication is
// done upstream; the creator id arrives in the X-Creator-ID header, and
// signed alert links carry their own authority.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/actions"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/tokens"
)

// CreatorHeader carries the authenticated creator id.
const CreatorHeader = "X-Creator-ID"

// Actions applies creator decisions.
type Actions interface {
	Apply(ctx context.Context, releaseID, creatorID string, action model.Action, notes string) (*actions.Result, error)
	ApplyByToken(ctx context.Context, token string, action model.Action, notes string) (*actions.Result, error)
	PreviewToken(ctx context.Context, token string, action model.Action) (*actions.Preview, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
}

type handler struct {
	actions Actions
	health  Pinger
	log     *zap.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(a Actions, health Pinger, opts Options) http.Handler {
	h := &handler{
		actions: a,
		health:  health,
		log:     zap.L().With(zap.String("component", "api")),
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", CreatorHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/releases/{id}/{action}", h.applyDirect)
		r.Get("/actions", h.previewToken)
		r.Post("/actions", h.applyToken)
	})
	return r
}

type actionRequest struct {
	Notes string `json:"notes"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) applyDirect(w http.ResponseWriter, r *http.Request) {
	creatorID := r.Header.Get(CreatorHeader)
	if creatorID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+CreatorHeader)
		return
	}
	action, ok := model.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.actions.Apply(r.Context(), chi.URLParam(r, "id"), creatorID, action, body.Notes)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// tokenParams reads the token and optional action from the query string.
func tokenParams(w http.ResponseWriter, r *http.Request) (string, model.Action, bool) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return "", "", false
	}
	var action model.Action
	if raw := q.Get("action"); raw != "" {
		parsed, ok := model.ParseAction(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown action")
			return "", "", false
		}
		action = parsed
	}
	return token, action, true
}

// previewToken answers a link click with a form that POSTs back to the same
// URL. GET never changes state, so mail scanners that prefetch links leave
// the token unspent.
func (h *handler) previewToken(w http.ResponseWriter, r *http.Request) {
	token, action, ok := tokenParams(w, r)
	if !ok {
		return
	}
	pv, err := h.actions.PreviewToken(r.Context(), token, action)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	writeHTML(w, confirmPage, confirmView{Preview: pv, ActionURL: r.URL.RequestURI()})
}

func (h *handler) applyToken(w http.ResponseWriter, r *http.Request) {
	token, action, ok := tokenParams(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.actions.ApplyByToken(r.Context(), token, action, body.Notes)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	if isForm(r) {
		writeHTML(w, resultPage, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeBody reads an optional JSON or form body.
func decodeBody(r *http.Request) (actionRequest, error) {
	var body actionRequest
	if r.Body == nil {
		return body, nil
	}
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			return body, err
		}
		body.Notes = r.PostForm.Get("notes")
		return body, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body)
	if errors.Is(err, io.EOF) {
		return body, nil
	}
	return body, err
}

func (h *handler) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, actions.ErrUnknownAction), errors.Is(err, actions.ErrActionMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tokens.ErrInvalid):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, tokens.ErrExpired):
		writeError(w, http.StatusGone, "link expired")
	case errors.Is(err, actions.ErrNotFound):
		writeError(w, http.StatusNotFound, "release not found")
	case errors.Is(err, actions.ErrTokenConsumed):
		writeError(w, http.StatusConflict, "link already used")
	case errors.Is(err, actions.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "release already resolved")
	default:
		h.log.Error("action failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isForm(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded"
}

type confirmView struct {
	*actions.Preview
	ActionURL string
}

var confirmPage = template.Must(template.New("confirm").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Catalog monitor</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Current status: {{.Status}}</p>
<form method="post" action="{{.ActionURL}}">
{{if eq .Action "dispute"}}<p><label>Notes<br><textarea name="notes" rows="4" cols="50"></textarea></label></p>
{{end}}<button type="submit">{{.Action}}</button>
</form>
</body></html>
`))

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Catalog monitor</title></head>
<body>
<p>Recorded: {{.Action}}. The release is now {{.Status}}.</p>
</body></html>
`))

func writeHTML(w http.ResponseWriter, t *template.Template, v any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := t.Execute(w, v); err != nil {
		zap.L().Warn("render page", zap.String("component", "api"), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
