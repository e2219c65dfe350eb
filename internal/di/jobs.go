package di

import (
	"fmt"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers the background jobs.
// The scheduler is not started here.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	container.Scheduler = scheduler.New(log)
	jobs := &JobInstances{}

	if container.KnowledgeBaseDB == nil || cfg.KBHealthCheckSchedule == "" {
		return jobs, nil
	}

	jobs.KBHealthCheck = scheduler.NewKBHealthCheckJob(container.KnowledgeBaseDB, container.RecordRepo, log)
	if err := container.Scheduler.AddJob(cfg.KBHealthCheckSchedule, jobs.KBHealthCheck); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", jobs.KBHealthCheck.Name(), err)
	}
	return jobs, nil
}
