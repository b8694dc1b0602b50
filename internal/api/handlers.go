package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/control"
	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/orchestrator"
)

// listCheckpoints handles GET /v1/checkpoints. It returns
// {"checkpoints": [...]} with one progress row per stored slug.
func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	rows, err := orchestrator.Statuses(ctx, s.store)
	if err != nil {
		s.logger.Error("list checkpoints failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": rows})
}

// getCheckpoint handles GET /v1/checkpoints/{slug}: 400 for malformed slugs,
// 404 when absent, 409 when the stored snapshot is unreadable.
func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := crawler.ValidateSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	state, err := s.store.Load(ctx, slug)
	var corrupt *crawler.CheckpointCorruptionError
	switch {
	case errors.Is(err, crawler.ErrCheckpointNotFound):
		writeError(w, http.StatusNotFound, "checkpoint not found")
		return
	case errors.As(err, &corrupt):
		writeError(w, http.StatusConflict, corrupt.Error())
		return
	case err != nil:
		s.logger.Error("load checkpoint failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": crawler.Summarize(state)})
}

func (s *Server) getControl(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.control.Snapshot())
}

// postControl handles POST /v1/control/{intent} for pause, resume, save and
// quit (short forms accepted). It returns the resulting control snapshot.
func (s *Server) postControl(w http.ResponseWriter, r *http.Request) {
	intent, err := control.ParseIntent(chi.URLParam(r, "intent"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.control.Apply(intent); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("control intent received",
		zap.String("intent", string(intent)),
		zap.String("request_id", RequestID(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, s.control.Snapshot())
}

func (s *Server) currentJob(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "no crawl attached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": s.status.Status()})
}
