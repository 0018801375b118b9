package orchestrator

import (
	"context"

	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// addTokenUsage mutates agent.token_usage atomically via a single
// jsonb_set expression (spec §3: "Usage counters must be mutated
// atomically"), never read-modify-write in Go.
func (o *Orchestrator) addTokenUsage(ctx context.Context, agent *models.Agent, model string, usage llm.Usage) {
	log := logx.With("orchestrator")

	const expr = `token_usage = jsonb_set(
		COALESCE(token_usage, '{}'::jsonb),
		ARRAY[?],
		jsonb_build_object(
			'input_tokens', COALESCE(token_usage->?->>'input_tokens', '0')::bigint + ?,
			'output_tokens', COALESCE(token_usage->?->>'output_tokens', '0')::bigint + ?,
			'cache_read_tokens', COALESCE(token_usage->?->>'cache_read_tokens', '0')::bigint + ?,
			'cache_creation_tokens', COALESCE(token_usage->?->>'cache_creation_tokens', '0')::bigint + ?
		),
		true
	)`

	if execErr := o.db.WithContext(ctx).Exec(
		`UPDATE agents SET `+expr+` WHERE id = ?`,
		model, model, usage.InputTokens, model, usage.OutputTokens, model, usage.CacheReadTokens, model, usage.CacheCreationTokens, agent.ID,
	).Error; execErr != nil {
		log.Warn().Err(execErr).Msg("⚠️ failed to update token usage")
	}
}
