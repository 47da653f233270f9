package metric

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
)

// StatusFunc returns the latest bridge snapshot.
type StatusFunc func() types.Snapshot

// Server serves /metrics, /healthz and /status.
type Server struct {
	addr   string
	reg    *prometheus.Registry
	status StatusFunc
	log    *zap.Logger
	srv    *http.Server
}

func NewServer(addr string, reg *prometheus.Registry, status StatusFunc, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{addr: addr, reg: reg, status: status, log: log.Named("http")}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, render.M{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		if s.status == nil {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, render.M{"error": "bridge not running"})
			return
		}
		render.JSON(w, r, s.status())
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return r
}

// Run listens until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return xerrors.WrapFatal(err, "http", "listen")
	}
	s.log.Info("status server listening", zap.Stringer("addr", ln.Addr()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
