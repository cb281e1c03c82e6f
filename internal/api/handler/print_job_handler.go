package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/api/dto"
	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/printjob"
)

// WorkerKeyHeader carries the shared secret of report workers.
const WorkerKeyHeader = "X-Worker-Key"

// PrintJobHandler handles print job HTTP requests
type PrintJobHandler struct {
	logger       *slog.Logger
	service      PrintJobService
	workerAPIKey string
}

// NewPrintJobHandler creates a new PrintJobHandler instance
func NewPrintJobHandler(deps *Dependencies) *PrintJobHandler {
	return &PrintJobHandler{
		logger:       deps.Logger,
		service:      deps.PrintJobs,
		workerAPIKey: deps.WorkerAPIKey,
	}
}

// CreateJob handles POST /api/v1/print/jobs
func (h *PrintJobHandler) CreateJob(c *gin.Context) {
	id, _ := GetIdentity(c)

	var req dto.CreatePrintJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	job, err := h.service.Create(c.Request.Context(), id.UserID, id.companyOrNil(), printjob.CreateRequest{
		ReportKey:  req.ReportKey,
		Format:     req.Format,
		Parameters: req.Parameters,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Location", "/api/v1/print/jobs/"+job.ID.String())
	c.JSON(http.StatusAccepted, dto.NewPrintJobResponse(job))
}

// GetJob handles GET /api/v1/print/jobs/:id
func (h *PrintJobHandler) GetJob(c *gin.Context) {
	id, _ := GetIdentity(c)

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, domain.ErrJobNotFound)
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), jobID, id.UserID, id.companyOrNil(), id.IsAdmin())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewPrintJobResponse(job))
}

// GetWorkItem handles GET /api/v1/print/internal/jobs/:id/work-item
// Only report workers holding the shared key may call it.
func (h *PrintJobHandler) GetWorkItem(c *gin.Context) {
	key := c.GetHeader(WorkerKeyHeader)
	if h.workerAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.workerAPIKey)) != 1 {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid worker key"})
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, domain.ErrJobNotFound)
		return
	}

	item, err := h.service.GetWorkItem(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, item)
}
