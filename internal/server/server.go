package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/engine"
	"github.com/playperu/questhunt/internal/messaging"
	"github.com/playperu/questhunt/internal/pubsub"
)

// Deps are the game components the HTTP layer is a transport over.
type Deps struct {
	Store    docstore.Client
	Feed     *pubsub.Feed
	Quests   *engine.QuestEngine
	Catalog  *engine.Catalog
	Items    *engine.ItemEngine
	Tracker  *engine.Tracker
	Messages *messaging.Tracker
	Checks   map[string]Checker

	// AdminKeyHash is the bcrypt hash of the admin key; empty disables the
	// admin API.
	AdminKeyHash []byte
	PollInterval time.Duration
	SPADir       string
}

type Server struct {
	srv    *http.Server
	broker *Broker
	logger *slog.Logger
}

func New(addr string, logger *slog.Logger, deps *Deps) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(logger))
	r.Use(middleware.Recoverer)

	broker := NewBroker()
	addRoutes(r, logger, deps, broker)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		broker: broker,
		logger: logger,
	}
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Broker returns the event broker feeding the SSE stream.
func (s *Server) Broker() *Broker { return s.broker }

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
