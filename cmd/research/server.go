package main

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dshills/research-assistant/internal/app"
	"github.com/dshills/research-assistant/session"
)

const readyText = "Research assistant ready. What topic should we research?"

// newHandler builds the HTTP routes of the service.
func newHandler(a *app.App) http.Handler {
	cookie := a.Config.Server.CookieName
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(w, r, cookie)
		a.Sessions.Reset(id)
		writeText(w, readyText)
	})

	mux.HandleFunc("POST /get", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		id := sessionID(w, r, cookie)
		reply := a.Sessions.Handle(r.Context(), id, r.PostFormValue("msg"))
		writeText(w, reply.Render(session.FormatMarkdown))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, "ok")
	})

	if a.Tracer == nil {
		return mux
	}
	return otelhttp.NewHandler(mux, "research", otelhttp.WithTracerProvider(a.Tracer))
}

// sessionID returns the session cookie of r, issuing a new one if it is
// absent or not an id this server issued.
func sessionID(w http.ResponseWriter, r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, text)
}
