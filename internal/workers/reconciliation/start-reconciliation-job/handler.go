// internal/workers/reconciliation/start-reconciliation-job/handler.go
package startreconciliationjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/metrics"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/registry"
)

const (
	TaskType = "start-reconciliation-job"
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
	ErrInvalidJobID = errors.New("INVALID_JOB_ID")
)

// JobStarter is the part of the reconciliation service this worker drives.
type JobStarter interface {
	StartJob(ctx context.Context, jobID uuid.UUID) (models.JobStatus, error)
}

type Handler struct {
	config   *Config
	service  JobStarter
	registry *registry.ActivityRegistry
	errors   *apperrors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, service JobStarter, reg *registry.ActivityRegistry, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		service:  service,
		registry: reg,
		errors:   apperrors.NewErrorHandler(log),
		logger:   log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
		"retries":     job.Retries,
	})

	input, err := h.parseInput(job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, "INVALID_INPUT").Inc()
		h.throwError(client, job, "INVALID_INPUT", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, input)
	if err != nil {
		// Out of retries while the scheduler is still full: let the process branch on admitted.
		if apperrors.IsCapacity(err) && job.Retries <= 1 {
			h.completeJob(client, job, &Output{JobID: input.JobID, Status: string(models.JobQueued)})
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			return
		}
		if errors.Is(err, ErrInvalidJobID) {
			metrics.WorkerJobsFailed.WithLabelValues(TaskType, "INVALID_JOB_ID").Inc()
			h.throwError(client, job, "INVALID_JOB_ID", err.Error())
			return
		}
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	if h.registry != nil {
		if err := h.registry.ValidateInput(TaskType, job.Variables); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, fmt.Errorf("%w: parse input: %v", ErrInvalidInput, err)
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: input cannot be nil", ErrInvalidInput)
	}
	jobID, err := uuid.Parse(input.JobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJobID, input.JobID)
	}

	status, err := h.service.StartJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Output{
		JobID:    status.JobID.String(),
		Status:   string(status.State),
		Admitted: true,
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}

func (h *Handler) throwError(client worker.JobClient, job entities.Job, errorCode, errorMessage string) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":       job.Key,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
	})

	_, err := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(errorCode).
		ErrorMessage(errorMessage).
		Send(context.Background())
	if err != nil {
		h.logger.Error("failed to throw error", map[string]interface{}{
			"error": err,
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) GetTaskType() string { return TaskType }

func (h *Handler) GetConfig() *Config { return h.config }
