package httpserver

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scholarsentinel/diagram-forensics/internal/http/handlers"
	"github.com/scholarsentinel/diagram-forensics/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Metrics        http.Handler
	Logger         *log.Logger
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Trace(deps.Logger))
	router.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	router.Use(middleware.Auth(deps.AuthToken))

	router.Get("/healthz", deps.API.Health)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/plagiarism", deps.API.SubmitPlagiarism)
		r.Post("/extract", deps.API.SubmitExtract)
		r.Post("/hash", deps.API.SubmitHash)
		r.Post("/compare", deps.API.SubmitCompare)
		r.Post("/reverse-search", deps.API.SubmitReverseSearch)
		r.Get("/{jobID}/status", deps.API.JobStatus)
		r.Get("/{jobID}/report", deps.API.JobReport)
	})

	return router
}
