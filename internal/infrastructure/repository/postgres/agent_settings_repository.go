package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

// AgentSettingsRepository reads agent configuration owned by the agent
// management service. This module only consumes it.
type AgentSettingsRepository struct {
	db *sql.DB
}

func NewAgentSettingsRepository(db *sql.DB) *AgentSettingsRepository {
	return &AgentSettingsRepository{db: db}
}

func (r *AgentSettingsRepository) GetByID(ctx context.Context, id string) (*domain.AgentSettings, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, model_name, base_url, temperature, chunk_threshold, timeout_seconds, system_prompt, collection
FROM agent_settings
WHERE id = $1
`, id)

	var s domain.AgentSettings
	err := row.Scan(
		&s.ID, &s.ModelName, &s.BaseURL, &s.Temperature,
		&s.ChunkThreshold, &s.TimeoutSeconds, &s.SystemPrompt, &s.Collection,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrAgentNotFound, "get agent settings", err)
		}
		return nil, fmt.Errorf("scan agent settings: %w", err)
	}
	return &s, nil
}
