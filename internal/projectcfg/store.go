package projectcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/convoflow/convoflow/internal/db"
)

// Store reads project configurations from Postgres. Records live in a JSONB
// column so configuration shape changes do not require schema migrations.
type Store struct {
	q      db.Querier
	logger *slog.Logger
}

// NewStore creates a configuration store backed by the given querier.
func NewStore(log *slog.Logger, q db.Querier) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		q:      q,
		logger: log.With(slog.String("service", "projectcfg")),
	}
}

// Get fetches the configuration for (companyID, projectID).
func (s *Store) Get(ctx context.Context, companyID, projectID string) (ProjectConfig, error) {
	if companyID == "" || projectID == "" {
		return ProjectConfig{}, fmt.Errorf("company id and project id are required")
	}
	var raw []byte
	err := s.q.QueryRow(ctx,
		`SELECT config FROM project_configs WHERE company_id = $1 AND project_id = $2`,
		companyID, projectID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProjectConfig{}, ErrNotFound
		}
		return ProjectConfig{}, fmt.Errorf("get project config: %w", err)
	}
	var cfg ProjectConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ProjectConfig{}, fmt.Errorf("decode project config: %w", err)
	}
	cfg.CompanyID = companyID
	cfg.ProjectID = projectID
	return cfg, nil
}

// Put upserts a configuration record. Used by provisioning tooling and tests;
// the pipeline itself never writes here.
func (s *Store) Put(ctx context.Context, cfg ProjectConfig) error {
	if cfg.CompanyID == "" || cfg.ProjectID == "" {
		return fmt.Errorf("company id and project id are required")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode project config: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO project_configs (company_id, project_id, config)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (company_id, project_id)
		 DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		cfg.CompanyID, cfg.ProjectID, raw,
	)
	if err != nil {
		return fmt.Errorf("put project config: %w", err)
	}
	return nil
}
