// Package health serves liveness, expvar metrics and the live run status.
package health

import (
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mailpacer/dispatch"
	"mailpacer/internal/logger"
)

// StatusSource reports the state of the dispatcher.
type StatusSource interface {
	Status() dispatch.Status
}

// Server is a running status server.
type Server struct {
	*http.Server
	Listener net.Listener
}

// Start listens on addr and serves /healthz, /metrics and /status in the
// background. Requests from outside allowed are refused; nil allows
// loopback only.
func Start(addr string, src StatusSource, allowed []*net.IPNet, log zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status listen: %w", err)
	}
	log = logger.WithComponent(log, "health")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK")
	})
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(src.Status())
	})

	srv := &http.Server{
		Handler:           restrict(mux, allowed, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	return &Server{Server: srv, Listener: ln}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func restrict(next http.Handler, allowed []*net.IPNet, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		host, _, _ := net.SplitHostPort(r.RemoteAddr)
		if permitted(net.ParseIP(host), allowed) {
			next.ServeHTTP(rec, r)
		} else {
			http.Error(rec, "forbidden", http.StatusForbidden)
		}
		logger.HTTPRequest(log, r.Method, r.URL.Path, rec.code, time.Since(start), host)
	})
}

func permitted(ip net.IP, allowed []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	if len(allowed) == 0 {
		return ip.IsLoopback()
	}
	for _, n := range allowed {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
