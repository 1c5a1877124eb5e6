package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/convoflow/convoflow/internal/db"
)

// PostgresStore resolves secret references against the secrets table. Values
// are JSONB documents with an api_key field plus optional provider extras.
type PostgresStore struct {
	q      db.Querier
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed secret store.
func NewPostgresStore(log *slog.Logger, q db.Querier) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		q:      q,
		logger: log.With(slog.String("service", "secrets")),
	}
}

// Resolve dereferences a secret path. A missing row or an empty api_key is a
// configuration error surfaced as ErrNotFound/ErrMalformed.
func (s *PostgresStore) Resolve(ctx context.Context, ref string) (Secret, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Secret{}, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	var raw []byte
	err := s.q.QueryRow(ctx, `SELECT value FROM secrets WHERE ref = $1`, ref).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Secret{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return Secret{}, fmt.Errorf("resolve secret %s: %w", ref, err)
	}
	var sec Secret
	if err := json.Unmarshal(raw, &sec); err != nil {
		return Secret{}, fmt.Errorf("%w: %s: %v", ErrMalformed, ref, err)
	}
	if sec.APIKey == "" {
		return Secret{}, fmt.Errorf("%w: %s: missing api_key", ErrMalformed, ref)
	}
	return sec, nil
}

var _ Store = (*PostgresStore)(nil)
