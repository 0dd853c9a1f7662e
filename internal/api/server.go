// Package api exposes the accountability service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/pledge/internal/accountability"
	"github.com/sells-group/pledge/internal/config"
	"github.com/sells-group/pledge/internal/monitoring"
)

// ActorHeader carries the authenticated caller's user id. Authentication
// itself happens upstream.
const ActorHeader = "X-Actor-ID"

// maxBodyBytes bounds request bodies, multipart included.
const maxBodyBytes = 1 << 20

// Server holds the handler dependencies.
type Server struct {
	svc   *accountability.Service
	stats *monitoring.Collector
}

// NewRouter builds the HTTP handler.
func NewRouter(svc *accountability.Service, stats *monitoring.Collector, cfg config.ServerConfig) http.Handler {
	s := &Server{svc: svc, stats: stats}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Get("/catalog/actions", s.listCatalog)
		api.Get("/stats", s.getStats)

		api.Route("/commitments", func(cr chi.Router) {
			cr.Post("/", s.createCommitment)
			cr.Get("/", s.listCommitments)

			cr.Route("/{id}", func(one chi.Router) {
				one.Get("/", s.getCommitment)
				one.Post("/transitions", s.transition)
				one.Post("/relapse", s.reportRelapse)
				one.Get("/proofs", s.listProofs)
				one.Post("/proofs", s.submitProof)
				one.Post("/proofs/{proofID}/verify", s.verifyProof)
				one.Get("/escalation", s.listOptions)
				one.Post("/escalation", s.applyEscalation)
			})
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
