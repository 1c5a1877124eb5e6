package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/convoflow/convoflow/internal/db"
)

var (
	// ErrNotFound means no record exists for the given key.
	ErrNotFound = errors.New("conversation not found")
)

// Store persists conversation records in Postgres. Writes are either
// conditional (initial create) or additive (status advance, history append),
// so concurrent workers for different conversations never contend and
// duplicate workers for the same conversation serialize on the primary key.
type Store struct {
	q      db.Querier
	logger *slog.Logger
}

// NewStore creates a conversation store backed by the given querier.
func NewStore(log *slog.Logger, q db.Querier) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		q:      q,
		logger: log.With(slog.String("service", "conversation")),
	}
}

// CreateIfAbsent inserts the initial record for a conversation. When a record
// already exists for the key (duplicate queue delivery) the insert is a no-op
// and created reports false. This conditional write is the idempotency gate
// for the whole pipeline.
func (s *Store) CreateIfAbsent(ctx context.Context, rec Record) (created bool, err error) {
	if rec.PrimaryChannel == "" || rec.ConversationID == "" {
		return false, fmt.Errorf("primary channel and conversation id are required")
	}
	if rec.Status == "" {
		rec.Status = StatusInitialProcessing
	}
	reps, err := json.Marshal(orEmptyMap(rec.Representatives))
	if err != nil {
		return false, fmt.Errorf("encode representatives: %w", err)
	}
	tag, err := s.q.Exec(ctx,
		`INSERT INTO conversations
		   (primary_channel, conversation_id, company_id, project_id, channel_method, status, representatives)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (primary_channel, conversation_id) DO NOTHING`,
		rec.PrimaryChannel, rec.ConversationID, rec.CompanyID, rec.ProjectID,
		rec.ChannelMethod, rec.Status, reps,
	)
	if err != nil {
		return false, fmt.Errorf("create conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Info("conversation already exists, create is a no-op",
			slog.String("conversation_id", rec.ConversationID),
		)
		return false, nil
	}
	return true, nil
}

// Get loads one record by key.
func (s *Store) Get(ctx context.Context, primaryChannel, conversationID string) (Record, error) {
	row := s.q.QueryRow(ctx,
		`SELECT primary_channel, conversation_id, company_id, project_id, channel_method,
		        status, thread_id, task_complete, representatives, history,
		        processing_time_seconds, created_at, updated_at
		   FROM conversations
		  WHERE primary_channel = $1 AND conversation_id = $2`,
		primaryChannel, conversationID,
	)
	return scanRecord(row)
}

// AdvanceStatus moves the record's status forward. The WHERE clause enforces
// the monotonic rule in the database: only a record still in
// initial_processing takes a failure status, and losing the race is not an
// error. Use Finalize for the completed status.
func (s *Store) AdvanceStatus(ctx context.Context, primaryChannel, conversationID, status string) error {
	if statusRank(status) <= 0 {
		return fmt.Errorf("cannot advance to status %q", status)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE conversations
		    SET status = $3, updated_at = now()
		  WHERE primary_channel = $1 AND conversation_id = $2
		    AND status = $4`,
		primaryChannel, conversationID, status, StatusInitialProcessing,
	)
	if err != nil {
		return fmt.Errorf("advance status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("status advance skipped, record missing or already terminal",
			slog.String("conversation_id", conversationID),
			slog.String("status", status),
		)
	}
	return nil
}

// Finalize completes a conversation: terminal status, AI thread reference,
// task-complete flag, processing duration, and one history entry appended via
// the JSONB concatenation operator so the append is a single atomic write.
func (s *Store) Finalize(ctx context.Context, primaryChannel, conversationID, status, threadID string, entry HistoryEntry, processingTime time.Duration) error {
	if statusRank(status) <= 0 {
		return fmt.Errorf("cannot finalize to status %q", status)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entryJSON, err := json.Marshal([]HistoryEntry{entry})
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE conversations
		    SET status = $3,
		        thread_id = $4,
		        task_complete = TRUE,
		        history = history || $5::jsonb,
		        processing_time_seconds = $6,
		        updated_at = now()
		  WHERE primary_channel = $1 AND conversation_id = $2
		    AND status <> $7`,
		primaryChannel, conversationID, status, threadID, entryJSON,
		processingTime.Seconds(), StatusProcessingCompleted,
	)
	if err != nil {
		return fmt.Errorf("finalize conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("finalize skipped, record missing or already terminal",
			slog.String("conversation_id", conversationID),
		)
	}
	return nil
}

// AppendHistory appends one entry to the record's history list atomically.
func (s *Store) AppendHistory(ctx context.Context, primaryChannel, conversationID string, entry HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entryJSON, err := json.Marshal([]HistoryEntry{entry})
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`UPDATE conversations
		    SET history = history || $3::jsonb, updated_at = now()
		  WHERE primary_channel = $1 AND conversation_id = $2`,
		primaryChannel, conversationID, entryJSON,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListByProject returns records for operational queries, newest first.
func (s *Store) ListByProject(ctx context.Context, companyID, projectID string, limit int32) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx,
		`SELECT primary_channel, conversation_id, company_id, project_id, channel_method,
		        status, thread_id, task_complete, representatives, history,
		        processing_time_seconds, created_at, updated_at
		   FROM conversations
		  WHERE company_id = $1 AND project_id = $2
		  ORDER BY created_at DESC
		  LIMIT $3`,
		companyID, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list by project: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListByStatus returns records in the given status, oldest first, for
// operational triage (e.g. finding stuck or failed conversations).
func (s *Store) ListByStatus(ctx context.Context, status string, limit int32) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx,
		`SELECT primary_channel, conversation_id, company_id, project_id, channel_method,
		        status, thread_id, task_complete, representatives, history,
		        processing_time_seconds, created_at, updated_at
		   FROM conversations
		  WHERE status = $1
		  ORDER BY created_at ASC
		  LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var reps, history []byte
	err := row.Scan(
		&rec.PrimaryChannel, &rec.ConversationID, &rec.CompanyID, &rec.ProjectID,
		&rec.ChannelMethod, &rec.Status, &rec.ThreadID, &rec.TaskComplete,
		&reps, &history, &rec.ProcessingTimeSeconds, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("scan conversation: %w", err)
	}
	if err := json.Unmarshal(reps, &rec.Representatives); err != nil {
		return Record{}, fmt.Errorf("decode representatives: %w", err)
	}
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return Record{}, fmt.Errorf("decode history: %w", err)
	}
	return rec, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
