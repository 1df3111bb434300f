package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/cardsight/cardsight/internal/domain/ingest"
	"github.com/cardsight/cardsight/internal/usecase"
)

type internalIngestJobRequest struct {
	CompetitionID int64    `json:"competition_id" validate:"omitempty,gt=0"`
	Resources     []string `json:"resources" validate:"omitempty,dive,oneof=matches teams referees"`
	MaxWorkers    int      `json:"max_workers" validate:"omitempty,gte=1,lte=8"`
	DryRun        bool     `json:"dry_run"`
}

type internalEnrichJobRequest struct {
	MatchID  int64 `json:"match_id" validate:"omitempty,gt=0"`
	SeasonID int64 `json:"season_id" validate:"omitempty,gt=0"`
}

type internalRefreshAggregateRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=full concurrent"`
}

func (h *Handler) RunIngestJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunIngestJob")
	defer span.End()

	if h.ingestionService == nil {
		writeError(ctx, w, fmt.Errorf("%w: ingestion service is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	var req internalIngestJobRequest
	if err := decodeJSONRequest(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	report, err := h.ingestionService.ScheduleIngestion(ctx, usecase.IngestInput{
		CompetitionID: req.CompetitionID,
		Resources:     req.Resources,
		MaxWorkers:    req.MaxWorkers,
		DryRun:        req.DryRun,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "run ingest job failed", "competition_id", req.CompetitionID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.publishReport(ctx, "ingest", report)

	writeSuccess(ctx, w, http.StatusOK, report)
}

func (h *Handler) RunEnrichJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunEnrichJob")
	defer span.End()

	if h.enrichmentService == nil {
		writeError(ctx, w, fmt.Errorf("%w: enrichment service is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	var req internalEnrichJobRequest
	if err := decodeJSONRequest(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	if req.MatchID > 0 {
		result, err := h.enrichmentService.Enrich(ctx, req.MatchID)
		if err != nil {
			h.logger.WarnContext(ctx, "run enrich job failed", "match_id", req.MatchID, "error", err)
			writeError(ctx, w, err)
			return
		}
		h.publishReport(ctx, "enrich", result)
		writeSuccess(ctx, w, http.StatusOK, result)
		return
	}

	report, err := h.enrichmentService.EnrichAll(ctx, req.SeasonID)
	if err != nil {
		h.logger.WarnContext(ctx, "run enrich-all job failed", "season_id", req.SeasonID, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.publishReport(ctx, "enrich", report)

	writeSuccess(ctx, w, http.StatusOK, report)
}

func (h *Handler) RunRefreshJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunRefreshJob")
	defer span.End()

	if h.refreshService == nil {
		writeError(ctx, w, fmt.Errorf("%w: refresh service is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	report, err := h.refreshService.Tick(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "run refresh job failed", "error", err)
		writeError(ctx, w, err)
		return
	}
	h.publishReport(ctx, "refresh", report)

	writeSuccess(ctx, w, http.StatusOK, report)
}

func (h *Handler) RefreshOneAggregate(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RefreshOneAggregate")
	defer span.End()

	if h.refreshService == nil {
		writeError(ctx, w, fmt.Errorf("%w: refresh service is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	var req internalRefreshAggregateRequest
	if err := decodeJSONRequest(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	name := r.PathValue("name")
	outcome, err := h.refreshService.RefreshOne(ctx, name, req.Mode)
	if err != nil {
		h.logger.WarnContext(ctx, "refresh aggregate failed", "aggregate", name, "mode", req.Mode, "error", err)
		writeError(ctx, w, err)
		return
	}
	h.publishReport(ctx, "refresh", outcome)

	writeSuccess(ctx, w, http.StatusOK, outcome)
}

func (h *Handler) ListFetchJobs(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListFetchJobs")
	defer span.End()

	if h.ingestionService == nil {
		writeError(ctx, w, fmt.Errorf("%w: ingestion service is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	jobs, err := h.ingestionService.ListJobs(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "list fetch jobs failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, fetchJobsToDTO(jobs))
}

type fetchJobDTO struct {
	CompetitionID int64  `json:"competition_id"`
	SeasonID      int64  `json:"season_id"`
	Resource      string `json:"resource"`
	Status        string `json:"status"`
	PageCursor    int    `json:"page_cursor"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	StartedAt     string `json:"started_at,omitempty"`
	FinishedAt    string `json:"finished_at,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

func fetchJobsToDTO(jobs []ingest.Job) []fetchJobDTO {
	out := make([]fetchJobDTO, 0, len(jobs))
	for _, job := range jobs {
		item := fetchJobDTO{
			CompetitionID: job.CompetitionID,
			SeasonID:      job.SeasonID,
			Resource:      string(job.Resource),
			Status:        string(job.Status),
			PageCursor:    job.PageCursor,
			Attempts:      job.Attempts,
			LastError:     job.LastError,
			UpdatedAt:     job.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if job.StartedAt != nil {
			item.StartedAt = job.StartedAt.UTC().Format(time.RFC3339)
		}
		if job.FinishedAt != nil {
			item.FinishedAt = job.FinishedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, item)
	}
	return out
}

func decodeJSONRequest(r *http.Request, dst any) error {
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err)
	}
	return nil
}
