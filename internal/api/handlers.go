package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/export"
	"github.com/user/tender-service/internal/storage"
	"github.com/user/tender-service/internal/worker"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// categoryParam reads ?category=, defaulting to nonresidential premises.
func categoryParam(r *http.Request) (domain.Category, error) {
	v := r.URL.Query().Get("category")
	if v == "" {
		return domain.Nonresidential, nil
	}
	return domain.ParseCategory(v)
}

func (s *Server) handleGetTender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenderID")
	category, err := categoryParam(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cached, err := s.cache.GetTender(r.Context(), id)
	switch {
	case err == nil && cached.Category == category:
		s.respondWithJSON(w, http.StatusOK, cached)
		return
	case err != nil && !errors.Is(err, storage.ErrCacheMiss):
		s.logger.Warn("cache lookup failed", zap.String("tender_id", id), zap.Error(err))
	}

	t, err := s.store.GetTender(r.Context(), category, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "Tender not found")
			return
		}
		s.logger.Error("failed to get tender", zap.String("tender_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve tender")
		return
	}
	s.respondWithJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTenders(w http.ResponseWriter, r *http.Request) {
	category, err := categoryParam(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	by := q.Get("by")
	if by != storage.ByTenderID && by != storage.ByAddress {
		s.respondWithError(w, http.StatusBadRequest, "by must be tender_id or address")
		return
	}
	params := q["params"]
	if len(params) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "params query parameter is required")
		return
	}

	tenders, err := s.store.ListTenders(r.Context(), storage.ListFilter{Category: category, By: by, Values: params})
	if err != nil {
		s.logger.Error("failed to list tenders", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve tenders")
		return
	}
	if tenders == nil {
		tenders = []*domain.Tender{}
	}
	s.respondWithJSON(w, http.StatusOK, tenders)
}

func (s *Server) handleDeleteExpired(w http.ResponseWriter, r *http.Request) {
	task := worker.Task{Name: "sweep", Run: func(ctx context.Context) error {
		n, err := s.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("expired tenders removed on request", zap.Int("deleted", n))
		return nil
	}}
	if err := s.tasks.Submit(r.Context(), task); err != nil {
		s.logger.Error("failed to schedule sweep", zap.Error(err))
		s.respondWithError(w, http.StatusServiceUnavailable, "Could not schedule deletion")
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Expired tenders deletion started"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	categories := domain.Categories
	if r.URL.Query().Get("category") != "" {
		c, err := categoryParam(r)
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		categories = []domain.Category{c}
	}

	data := make(map[domain.Category][]*domain.Tender, len(categories))
	for _, c := range categories {
		tenders, err := s.store.ListTenders(r.Context(), storage.ListFilter{Category: c})
		if err != nil {
			s.logger.Error("failed to load tenders for export", zap.String("category", c.String()), zap.Error(err))
			s.respondWithError(w, http.StatusInternalServerError, "Could not export tenders")
			return
		}
		data[c] = tenders
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, categories, data); err != nil {
		s.logger.Error("failed to render export", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not export tenders")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="tenders.xlsx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.store.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.cache.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["postgres"] != "healthy" || healthStatus["redis"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		code = http.StatusInternalServerError
		response = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
