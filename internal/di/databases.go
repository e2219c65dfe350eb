package di

import (
	"fmt"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the knowledge-base database and applies its
// schema. Nothing is opened when the knowledge base is disabled.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}
	if !cfg.KBEnabled {
		log.Warn().Msg("Knowledge base disabled, instrument proposals will be withheld")
		return container, nil
	}

	kbDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "knowledgebase",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize knowledge base database: %w", err)
	}
	if err := kbDB.Migrate(); err != nil {
		kbDB.Close()
		return nil, fmt.Errorf("failed to migrate knowledge base database: %w", err)
	}
	container.KnowledgeBaseDB = kbDB

	log.Info().Str("path", cfg.DatabasePath()).Msg("Knowledge base database initialized")
	return container, nil
}
