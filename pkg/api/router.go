// Package api exposes the HTTP surface of the control plane: a gorilla/mux
// router delegating every route straight into pkg/control, with a
// zerolog-based logging middleware and Prometheus request instrumentation
// in the spirit of the teacher's pkg/api request handling.
package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/dimrozakis/vpn-proxy-go/pkg/control"
	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
	"github.com/dimrozakis/vpn-proxy-go/pkg/log"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SourceFilter is the pluggable middleware hook for CIDR-based source
// filtering and request authentication. Request authentication is an
// external collaborator per the specification and is never implemented
// here; source CIDR filtering is simple enough to provide a real default.
type SourceFilter func(next http.Handler) http.Handler

// PermissiveSourceFilter is a SourceFilter that applies no policy.
func PermissiveSourceFilter(next http.Handler) http.Handler { return next }

// NewCIDRSourceFilter returns a SourceFilter that rejects (403 Forbidden)
// requests whose remote address doesn't fall inside one of allowed. A
// malformed entry in allowed is a configuration bug, not a per-request
// concern, so it parses eagerly.
func NewCIDRSourceFilter(allowed []string) (SourceFilter, error) {
	nets := make([]*net.IPNet, 0, len(allowed))
	for _, c := range allowed {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, domain.ValidationErrorf("invalid source CIDR %q: %v", c, err)
		}
		nets = append(nets, n)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := r.RemoteAddr
			if i := strings.LastIndex(host, ":"); i != -1 {
				host = host[:i]
			}
			ip := net.ParseIP(host)
			if ip == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			for _, n := range nets {
				if n.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}, nil
}

// Server wraps the router and its dependencies.
type Server struct {
	router     *mux.Router
	controller *control.Controller
	logger     zerolog.Logger
}

// NewServer builds the router and registers every route from §6 of the
// specification. sourceFilter is registered last, so it runs innermost,
// after the logging and metrics middleware: rejected requests are still
// logged and counted. Pass PermissiveSourceFilter when no source
// restriction is configured.
func NewServer(c *control.Controller, ifacePrefix string, serverPortStart int, sourceFilter SourceFilter) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		controller: c,
		logger:     log.WithComponent("api"),
	}

	h := &handlers{controller: c, ifacePrefix: ifacePrefix, serverPortStart: serverPortStart, logger: s.logger}

	s.router.HandleFunc("/", h.listTunnels).Methods(http.MethodGet)
	s.router.HandleFunc("/", h.createTunnel).Methods(http.MethodPost)
	s.router.HandleFunc("/{id:[0-9]+}/", h.getTunnel).Methods(http.MethodGet)
	s.router.HandleFunc("/{id:[0-9]+}/", h.enableTunnel).Methods(http.MethodPost)
	s.router.HandleFunc("/{id:[0-9]+}/", h.deleteTunnel).Methods(http.MethodDelete)
	s.router.HandleFunc("/{id:[0-9]+}/client_script/", h.clientScript).Methods(http.MethodGet)
	s.router.HandleFunc("/{tid:[0-9]+}/forwardings/{dst}/{port:[0-9]+}/", h.ensureForwarding).Methods(http.MethodGet)
	s.router.HandleFunc("/{tid:[0-9]+}/ping/{target}/", h.ping).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", h.metricsHandler()).Methods(http.MethodGet)

	s.router.Use(mux.MiddlewareFunc(loggingMiddleware(s.logger)))
	s.router.Use(mux.MiddlewareFunc(metricsMiddleware))
	s.router.Use(mux.MiddlewareFunc(sourceFilter))

	return s
}

// ServeHTTP implements http.Handler so Server can be passed straight to
// http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
