// Package api serves stored tenders over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/monitoring"
	"github.com/user/tender-service/internal/storage"
	"github.com/user/tender-service/internal/worker"
)

type TenderStore interface {
	GetTender(ctx context.Context, category domain.Category, tenderID string) (*domain.Tender, error)
	ListTenders(ctx context.Context, f storage.ListFilter) ([]*domain.Tender, error)
	Ping(ctx context.Context) error
}

type TenderCache interface {
	GetTender(ctx context.Context, tenderID string) (*domain.Tender, error)
	Ping(ctx context.Context) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Dispatcher interface {
	Submit(ctx context.Context, t worker.Task) error
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	port       string
	router     http.Handler
	httpServer *http.Server
	store      TenderStore
	cache      TenderCache
	sweeper    Sweeper
	tasks      Dispatcher
	gatherer   prometheus.Gatherer
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func NewServer(port string, store TenderStore, cache TenderCache, sw Sweeper, tasks Dispatcher, g prometheus.Gatherer, m *monitoring.Metrics, l *zap.Logger) *Server {
	s := &Server{
		port:     port,
		store:    store,
		cache:    cache,
		sweeper:  sw,
		tasks:    tasks,
		gatherer: g,
		metrics:  m,
		logger:   l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
