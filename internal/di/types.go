// Package di wires the knowledge-base database, repositories, services and
// jobs into a single container shared by the server and the CLI.
package di

import (
	"errors"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/database"
	"github.com/aristath/layerwise/internal/modules/instruments"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/aristath/layerwise/internal/scheduler"
)

// Container holds all application dependencies. KnowledgeBaseDB and
// RecordRepo are nil when the knowledge base is disabled.
type Container struct {
	KnowledgeBaseDB *database.DB
	RecordRepo      *knowledgebase.Repository

	Profiles config.Profiles

	InstrumentService *instruments.Service
	SuggestionService *suggestions.Service
	Assessor          *rebalancing.Assessor

	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered background jobs
type JobInstances struct {
	KBHealthCheck *scheduler.KBHealthCheckJob
}

// Fetcher returns the knowledge base as a fetcher, or a nil interface when
// it is disabled so services see it as missing.
func (c *Container) Fetcher() knowledgebase.Fetcher {
	if c.RecordRepo == nil {
		return nil
	}
	return c.RecordRepo
}

// Catalog returns the knowledge base as a catalog, or a nil interface when
// it is disabled.
func (c *Container) Catalog() knowledgebase.Catalog {
	if c.RecordRepo == nil {
		return nil
	}
	return c.RecordRepo
}

// Close stops the scheduler and closes the database.
func (c *Container) Close() error {
	var errs []error
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.KnowledgeBaseDB != nil {
		if err := c.KnowledgeBaseDB.Close(); err != nil {
			errs = append(errs, err)
		}
		c.KnowledgeBaseDB = nil
	}
	return errors.Join(errs...)
}
