package rpc

import (
	"log/slog"
	"net/http"

	"veilnet/core"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServerConfig carries the HTTP-facing knobs; engine policy lives elsewhere.
type ServerConfig struct {
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64
	Auth      AuthConfig
}

// Server is the HTTP face of the engine: a thin chi router that translates
// requests into engine calls and verdicts into status codes. All domain rules
// stay behind the engine boundary.
type Server struct {
	engine *core.Engine
	cfg    ServerConfig
	log    *slog.Logger
}

func NewServer(engine *core.Engine, cfg ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, cfg: cfg, log: log.With(slog.String("component", "rpc"))}
}

// Handler builds the full route tree. Administrative routes (registration,
// out-of-band seal authorization) sit behind bearer auth when enabled;
// everything else is public read/submit surface.
func (s *Server) Handler() http.Handler {
	auth := NewAuthenticator(s.cfg.Auth)
	limiter := NewRateLimiter(s.cfg.RateLimit, int(s.cfg.RateLimit))

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(Metrics("submit")).Post("/transactions", s.handleSubmit)
		v1.With(Metrics("pending")).Get("/transactions", s.handlePending)
		v1.With(Metrics("transaction")).Get("/transactions/{id}", s.handleTransaction)
		v1.With(Metrics("digest")).Get("/digest", s.handleDigest)

		v1.With(Metrics("identity")).Get("/identities/{fingerprint}", s.handleIdentity)
		v1.With(Metrics("state")).Get("/identities/{fingerprint}/state", s.handleState)
		v1.With(Metrics("seals")).Get("/identities/{fingerprint}/seals", s.handleSeals)
		v1.With(Metrics("history")).Get("/identities/{fingerprint}/transactions", s.handleHistory)

		v1.Group(func(admin chi.Router) {
			admin.Use(auth.Middleware)
			admin.With(Metrics("register")).Post("/identities", s.handleRegister)
			admin.With(Metrics("authorize_seal")).Post("/identities/{fingerprint}/seals", s.handleAuthorizeSeal)
		})
	})

	return otelhttp.NewHandler(r, "veilnet.rpc")
}
