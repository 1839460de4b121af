package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/meeting-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/meeting-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterDeps struct {
	Handler        *Handler
	Verifier       httpmw.TokenVerifier
	WS             http.HandlerFunc
	WSPath         string
	AllowedOrigins []string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareTracing)
	r.Use(httputil.MiddlewareLogging)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{httputil.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// long-lived; no timeout middleware here
	if d.WS != nil {
		path := d.WSPath
		if path == "" {
			path = "/ws"
		}
		r.Get(path, d.WS)
	}

	r.Route("/api/meeting", func(mr chi.Router) {
		mr.Use(middlewareChi.Timeout(30 * time.Second))

		mr.With(httpmw.Auth(d.Verifier)).Post("/create", d.Handler.CreateMeeting)
		mr.Get("/{meetingId}", d.Handler.GetMeeting)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
