// internal/common/camunda/worker.go
package camunda

import (
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"reconciliation-engine/internal/common/logger"
)

type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
	GetTaskType() string
}

// Workers owns the job workers opened against one Zeebe client.
type Workers struct {
	client  zbc.Client
	name    string
	logger  logger.Logger
	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkers(client zbc.Client, name string, log logger.Logger) *Workers {
	return &Workers{
		client:  client,
		name:    name,
		logger:  log.WithFields(map[string]interface{}{"component": "camunda_workers"}),
		workers: make(map[string]worker.JobWorker),
	}
}

// Register opens a job worker for handler's task type. Registering a task type twice is a no-op.
func (w *Workers) Register(handler JobHandler, maxJobsActive int, timeout time.Duration) {
	taskType := handler.GetTaskType()

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.workers[taskType]; ok {
		return
	}

	w.workers[taskType] = w.client.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		Name(w.name).
		MaxJobsActive(maxJobsActive).
		Timeout(timeout).
		Open()

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": maxJobsActive,
		"timeout":       timeout.String(),
	})
}

func (w *Workers) TaskTypes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.workers))
	for t := range w.workers {
		out = append(out, t)
	}
	return out
}

// Close stops polling and waits for in-flight handlers.
func (w *Workers) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for taskType, jw := range w.workers {
		w.logger.Info("stopping worker", map[string]interface{}{"taskType": taskType})
		jw.Close()
		jw.AwaitClose()
		delete(w.workers, taskType)
	}
}
