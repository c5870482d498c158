// Package adminapi is the side HTTP listener separate from the RESP TCP/TLS
// port: health, prometheus metrics, a JSON mirror of INFO, and Swagger UI.
// Routing follows the teacher's gorilla/mux router (chosen there, per its
// own comment, for route-ordering control over the stdlib ServeMux) with a
// hand-maintained swagger.json the same way the teacher serves
// docs/swagger.json from disk.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/emberkv/emberkv/logger"
)

var log = logger.For("adminapi")

// InfoProvider supplies the fields surfaced at GET /debug/info, implemented
// by whatever owns the live KeySpace/Engine/Sink instances at the call site.
type InfoProvider interface {
	Info() map[string]interface{}
}

// Server is the admin HTTP surface. It never handles a RESP command; it
// exists purely as an operational side channel, same role the teacher's
// mux router plays alongside (not instead of) the entity API.
type Server struct {
	router *mux.Router
	http   *http.Server
}

// New builds the router: /healthz, /metrics (promhttp against reg),
// /debug/info (JSON mirror of INFO via info), and /swagger/ against the
// supplied swaggerJSON document.
func New(addr string, reg *prometheus.Registry, info InfoProvider, swaggerJSON []byte) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")

	router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info.Info())
	}).Methods("GET")

	router.HandleFunc("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(swaggerJSON)
	}).Methods("GET")

	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	return &Server{
		router: router,
		http:   &http.Server{Addr: addr, Handler: router},
	}
}

// ListenAndServe blocks serving the admin surface until Shutdown is called;
// it returns http.ErrServerClosed on a clean shutdown.
func (s *Server) ListenAndServe() error {
	log.Info("listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown() error {
	return s.http.Close()
}

// Router exposes the underlying mux.Router, primarily so tests can drive
// requests through it without a live listener.
func (s *Server) Router() *mux.Router { return s.router }
