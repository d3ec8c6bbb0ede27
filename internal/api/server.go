// Package api exposes the reconciliation service over HTTP. Routes are
// scoped by job and entity; stage runs are POSTs because they persist
// results, and re-running a completed stage is safe.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clearledger/reconcile/internal/api/dto"
	"github.com/clearledger/reconcile/internal/application/service"
	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// Server wires the reconciliation service into a gin router.
type Server struct {
	svc    *service.ReconService
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(svc *service.ReconService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// RegisterRoutes mounts all endpoints on the router.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	scope := api.Group("/scopes/:job/:entity")
	{
		scope.POST("/external", s.handleIngestExternal)
		scope.POST("/internal", s.handleIngestInternal)
		scope.POST("/stages/:stage", s.handleRunStage)
		scope.DELETE("/stages/:stage", s.handleDeleteFromStage)
		scope.GET("/summary/:stage", s.handleSummary)
		scope.GET("/fees", s.handleFeeTotals)
		scope.POST("/allocations", s.handleAllocate)
		scope.DELETE("/allocations", s.handleRestoreAllocations)
		scope.GET("/journals", s.handleJournals)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func scopeFromPath(c *gin.Context) (ledger.Scope, bool) {
	jobID, err := strconv.ParseInt(c.Param("job"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError("job must be an integer"))
		return ledger.Scope{}, false
	}
	entityID, err := strconv.ParseInt(c.Param("entity"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError("entity must be an integer"))
		return ledger.Scope{}, false
	}
	return ledger.Scope{JobID: jobID, EntityID: entityID}, true
}

func stageFromPath(c *gin.Context) (int, bool) {
	stage, err := strconv.Atoi(c.Param("stage"))
	if err != nil || stage < 1 || stage > 3 {
		c.JSON(http.StatusBadRequest, dto.ValidationError("stage must be 1, 2 or 3"))
		return 0, false
	}
	return stage, true
}

// respondError maps service errors onto status codes. Everything not
// recognized is a 500 with the detail kept in the log, not the response.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, dto.NotFoundError("entity"))
	case errors.Is(err, ledger.ErrNoInputData),
		errors.Is(err, ledger.ErrNoActualTransactions),
		errors.Is(err, ledger.ErrUnparseableDate):
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, dto.ConflictError(err.Error()))
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, dto.InternalError())
	}
}

func (s *Server) handleIngestExternal(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	var req dto.IngestExternalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}
	count, err := s.svc.IngestExternal(c.Request.Context(), scope, req.ToExternalEntries())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.IngestResponse{Count: count})
}

func (s *Server) handleIngestInternal(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	var req dto.IngestInternalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}
	// The bank export carries every subsidiary, so it lands job-wide.
	count, err := s.svc.IngestInternal(c.Request.Context(), scope.JobID, req.ToInternalEntries())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.IngestResponse{Count: count})
}

func (s *Server) handleRunStage(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	stage, ok := stageFromPath(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	switch stage {
	case 1:
		res, err := s.svc.RunStage1(ctx, scope)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewStage1Response(res))
	case 2:
		res, err := s.svc.RunStage2(ctx, scope)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewStage2Response(res))
	case 3:
		res, err := s.svc.RunStage3(ctx, scope)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewStage3Response(res))
	}
}

func (s *Server) handleDeleteFromStage(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	stage, ok := stageFromPath(c)
	if !ok {
		return
	}
	if err := s.svc.DeleteFromStage(c.Request.Context(), scope, stage); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSummary(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	stage, ok := stageFromPath(c)
	if !ok {
		return
	}
	sum, err := s.svc.Summary(c.Request.Context(), scope, stage)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if sum == nil {
		c.JSON(http.StatusNotFound, dto.NotFoundError("summary"))
		return
	}
	c.JSON(http.StatusOK, dto.NewSummaryResponse(sum))
}

func (s *Server) handleFeeTotals(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	totals, err := s.svc.FeeTotals(c.Request.Context(), scope)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFeeTotalsResponse(totals))
}

func (s *Server) handleAllocate(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	var req dto.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}
	// The engine assigns the batch id; the request carries none.
	report, err := s.svc.Allocate(c.Request.Context(), scope, req.ToCommitments(""))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAllocationResponse(report))
}

func (s *Server) handleRestoreAllocations(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	if err := s.svc.RestoreAllocations(c.Request.Context(), scope); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleJournals(c *gin.Context) {
	scope, ok := scopeFromPath(c)
	if !ok {
		return
	}
	journals, err := s.svc.SplitJournals(c.Request.Context(), scope)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJournalsResponse(journals))
}
