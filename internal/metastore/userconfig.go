package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Default prompt templates seeded by user initialization.
// {{.Context}}, {{.Question}}, and {{.History}} are filled by the search
// pipeline at generation time.
const (
	DefaultRAGQueryTemplate = `Answer the question using only the provided context.
If the context does not cover the question, say so explicitly and do not invent citations.

Context:
{{.Context}}

{{.History}}Question: {{.Question}}

Answer:`

	DefaultQuestionGenerationTemplate = `Given the following material, produce {{.Count}} short, distinct questions it can answer.
Return one question per line with no numbering.

{{.Context}}`

	DefaultPodcastGenerationTemplate = `Write a two-host podcast script discussing the following material.

{{.Context}}`
)

// DefaultLLMParameters are the generation defaults seeded for new users.
var DefaultLLMParameters = LLMParameters{
	Temperature:  0.7,
	MaxNewTokens: 512,
	TopP:         0.9,
	TopK:         40,
}

// UserConfig is the frozen per-user configuration snapshot resolved at the
// head of every search.
type UserConfig struct {
	UserID     string
	Pipeline   Pipeline
	Parameters LLMParameters
	Templates  map[string]string
}

// Template returns the named template, falling back to the built-in
// default if the user record is somehow missing.
func (u *UserConfig) Template(name string) string {
	if t, ok := u.Templates[name]; ok && t != "" {
		return t
	}
	switch name {
	case TemplateRAGQuery:
		return DefaultRAGQueryTemplate
	case TemplateQuestionGeneration:
		return DefaultQuestionGenerationTemplate
	case TemplatePodcastGeneration:
		return DefaultPodcastGenerationTemplate
	}
	return ""
}

// ResolveUserConfig loads the user's pipeline, LLM parameters, and prompt
// templates, creating any missing records in one transaction (self-healing
// initialization). The returned snapshot is a value copy; callers never
// observe later changes.
func (s *Store) ResolveUserConfig(ctx context.Context, userID string) (*UserConfig, error) {
	cfg := &UserConfig{
		UserID:    userID,
		Templates: make(map[string]string, 3),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Pipeline.
		row := tx.QueryRowContext(ctx,
			`SELECT user_id, preset, is_default FROM pipelines WHERE user_id = ?`, userID)
		var isDefault int
		err := row.Scan(&cfg.Pipeline.UserID, &cfg.Pipeline.Preset, &isDefault)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			cfg.Pipeline = Pipeline{UserID: userID, Preset: "default", Default: true}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO pipelines (user_id, preset, is_default) VALUES (?, ?, 1)`,
				userID, cfg.Pipeline.Preset); err != nil {
				return fmt.Errorf("seeding pipeline: %w", err)
			}
		case err != nil:
			return fmt.Errorf("loading pipeline: %w", err)
		default:
			cfg.Pipeline.Default = isDefault != 0
		}

		// LLM parameters.
		row = tx.QueryRowContext(ctx, `
			SELECT user_id, temperature, max_new_tokens, top_p, top_k
			FROM llm_parameters WHERE user_id = ?`, userID)
		err = row.Scan(&cfg.Parameters.UserID, &cfg.Parameters.Temperature,
			&cfg.Parameters.MaxNewTokens, &cfg.Parameters.TopP, &cfg.Parameters.TopK)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			cfg.Parameters = DefaultLLMParameters
			cfg.Parameters.UserID = userID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO llm_parameters (user_id, temperature, max_new_tokens, top_p, top_k)
				VALUES (?, ?, ?, ?, ?)`,
				userID, cfg.Parameters.Temperature, cfg.Parameters.MaxNewTokens,
				cfg.Parameters.TopP, cfg.Parameters.TopK); err != nil {
				return fmt.Errorf("seeding llm parameters: %w", err)
			}
		case err != nil:
			return fmt.Errorf("loading llm parameters: %w", err)
		}

		// Prompt templates.
		rows, err := tx.QueryContext(ctx,
			`SELECT name, template FROM prompt_templates WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("loading templates: %w", err)
		}
		for rows.Next() {
			var name, tmpl string
			if err := rows.Scan(&name, &tmpl); err != nil {
				rows.Close()
				return fmt.Errorf("scanning template: %w", err)
			}
			cfg.Templates[name] = tmpl
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		defaults := map[string]string{
			TemplateRAGQuery:           DefaultRAGQueryTemplate,
			TemplateQuestionGeneration: DefaultQuestionGenerationTemplate,
			TemplatePodcastGeneration:  DefaultPodcastGenerationTemplate,
		}
		for name, tmpl := range defaults {
			if _, ok := cfg.Templates[name]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO prompt_templates (user_id, name, template)
				VALUES (?, ?, ?)`, userID, name, tmpl); err != nil {
				return fmt.Errorf("seeding template %s: %w", name, err)
			}
			cfg.Templates[name] = tmpl
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateLLMParameters replaces a user's generation defaults.
func (s *Store) UpdateLLMParameters(ctx context.Context, p LLMParameters) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_parameters (user_id, temperature, max_new_tokens, top_p, top_k)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			temperature = excluded.temperature,
			max_new_tokens = excluded.max_new_tokens,
			top_p = excluded.top_p,
			top_k = excluded.top_k`,
		p.UserID, p.Temperature, p.MaxNewTokens, p.TopP, p.TopK)
	if err != nil {
		return fmt.Errorf("updating llm parameters: %w", err)
	}
	return nil
}
