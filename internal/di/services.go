package di

import (
	"fmt"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/modules/instruments"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the knowledge-base repository
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.KnowledgeBaseDB == nil {
		return nil
	}
	container.RecordRepo = knowledgebase.NewRepository(container.KnowledgeBaseDB.Conn(), log)
	return nil
}

// InitializeServices loads the profiles and builds the engine services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	profiles, err := config.LoadProfiles(cfg.ProfilesFile)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	if _, ok := profiles.Resolve(cfg.Profile); !ok {
		log.Warn().Str("profile", cfg.Profile).Msg("Unknown default profile, falling back")
	}
	container.Profiles = profiles

	container.InstrumentService = instruments.NewService(container.Fetcher(), log)
	container.SuggestionService = suggestions.NewService(container.Fetcher(), container.Catalog(), log)
	container.Assessor = rebalancing.NewAssessor(profiles, container.InstrumentService, container.SuggestionService, log)

	log.Info().Int("profiles", len(profiles)).Msg("Services initialized")
	return nil
}
