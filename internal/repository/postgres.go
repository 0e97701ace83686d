package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecordStore is the durable backend. Multi-step writes (document
// insert plus task enqueue) run inside one transaction; the dedup invariant
// is backed by a unique index on (owner_id, content_hash) and claim
// atomicity by FOR UPDATE SKIP LOCKED.
type PostgresRecordStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRecordStore(ctx context.Context, databaseURL string) (*PostgresRecordStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	store := &PostgresRecordStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresRecordStore) Close() {
	s.pool.Close()
}

func (s *PostgresRecordStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id             UUID PRIMARY KEY,
			owner_id       TEXT NOT NULL,
			content_hash   TEXT NOT NULL,
			original_name  TEXT NOT NULL,
			size_bytes     BIGINT NOT NULL,
			mime_category  TEXT NOT NULL,
			blob_ref       TEXT NOT NULL,
			status         TEXT NOT NULL,
			extracted_text TEXT NOT NULL DEFAULT '',
			is_standard    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			UNIQUE (owner_id, content_hash)
		);

		CREATE TABLE IF NOT EXISTS queue_tasks (
			id             UUID PRIMARY KEY,
			document_id    UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
			counterpart_id UUID NULL REFERENCES documents (id) ON DELETE CASCADE,
			comparison_id  TEXT NOT NULL DEFAULT '',
			task_type      TEXT NOT NULL,
			priority       INT NOT NULL DEFAULT 0,
			status         TEXT NOT NULL,
			attempts       INT NOT NULL DEFAULT 0,
			max_attempts   INT NOT NULL,
			last_error     TEXT NOT NULL DEFAULT '',
			scheduled_at   TIMESTAMPTZ NOT NULL,
			claimed_at     TIMESTAMPTZ NULL,
			completed_at   TIMESTAMPTZ NULL,
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS queue_tasks_claim_idx
			ON queue_tasks (status, task_type, priority DESC, scheduled_at ASC);

		CREATE TABLE IF NOT EXISTS comparisons (
			id                UUID PRIMARY KEY,
			owner_id          TEXT NOT NULL,
			left_document_id  UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
			right_document_id UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
			status            TEXT NOT NULL,
			similarity        DOUBLE PRECISION NULL,
			summary           TEXT NOT NULL DEFAULT '',
			export_ref        TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const documentColumns = `id, owner_id, content_hash, original_name, size_bytes, mime_category,
	blob_ref, status, extracted_text, is_standard, created_at, updated_at`

const taskColumns = `id, document_id, COALESCE(counterpart_id::text, ''), comparison_id, task_type,
	priority, status, attempts, max_attempts, last_error, scheduled_at, claimed_at, completed_at, created_at`

const comparisonColumns = `id, owner_id, left_document_id, right_document_id, status,
	similarity, summary, export_ref, created_at, updated_at`

func (s *PostgresRecordStore) CreateDocumentWithTask(
	ctx context.Context,
	document *domain.Document,
	task *domain.QueueTask,
) (*domain.Document, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ON CONFLICT DO NOTHING plus re-fetch resolves a concurrent duplicate
	// insert in favor of the row that won, without surfacing the race.
	command, err := tx.Exec(ctx, `
		INSERT INTO documents (
			id, owner_id, content_hash, original_name, size_bytes, mime_category,
			blob_ref, status, extracted_text, is_standard, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (owner_id, content_hash) DO NOTHING
	`,
		document.ID,
		document.OwnerID,
		document.ContentHash,
		document.OriginalName,
		document.SizeBytes,
		string(document.MimeCategory),
		document.BlobRef,
		string(document.Status),
		document.ExtractedText,
		document.IsStandard,
		document.CreatedAt,
		document.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert document: %w", err)
	}

	if command.RowsAffected() == 0 {
		existing, err := s.findDocumentByOwnerAndHashTx(ctx, tx, document.OwnerID, document.ContentHash)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit tx: %w", err)
		}
		return existing, false, nil
	}

	if task != nil {
		if err := insertTask(ctx, tx, task); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	clone := *document
	return &clone, true, nil
}

func (s *PostgresRecordStore) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, documentID)
	return scanDocument(row)
}

func (s *PostgresRecordStore) FindDocumentByOwnerAndHash(
	ctx context.Context,
	ownerID, contentHash string,
) (*domain.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 AND content_hash = $2`,
		ownerID, contentHash,
	)
	return scanDocument(row)
}

func (s *PostgresRecordStore) findDocumentByOwnerAndHashTx(
	ctx context.Context,
	tx pgx.Tx,
	ownerID, contentHash string,
) (*domain.Document, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 AND content_hash = $2`,
		ownerID, contentHash,
	)
	return scanDocument(row)
}

func (s *PostgresRecordStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]*domain.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	documents := make([]*domain.Document, 0)
	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, document)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate documents: %w", rows.Err())
	}
	return documents, nil
}

func (s *PostgresRecordStore) UpdateDocument(ctx context.Context, document *domain.Document) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2,
			extracted_text = $3,
			is_standard = $4,
			updated_at = $5
		WHERE id = $1
	`,
		document.ID,
		string(document.Status),
		document.ExtractedText,
		document.IsStandard,
		document.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRecordStore) DeleteDocument(ctx context.Context, documentID string) error {
	command, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRecordStore) CreateTask(ctx context.Context, task *domain.QueueTask) error {
	return insertTask(ctx, s.pool, task)
}

// execQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so task inserts
// can run standalone or inside the document-creation transaction.
type execQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTask(ctx context.Context, runner execQuerier, task *domain.QueueTask) error {
	var counterpart any
	if task.CounterpartID != "" {
		counterpart = task.CounterpartID
	}
	_, err := runner.Exec(ctx, `
		INSERT INTO queue_tasks (
			id, document_id, counterpart_id, comparison_id, task_type, priority,
			status, attempts, max_attempts, last_error, scheduled_at, claimed_at,
			completed_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		task.ID,
		task.DocumentID,
		counterpart,
		task.ComparisonID,
		string(task.TaskType),
		task.Priority,
		string(task.Status),
		task.Attempts,
		task.MaxAttempts,
		task.LastError,
		task.ScheduledAt,
		task.ClaimedAt,
		task.CompletedAt,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) GetTask(ctx context.Context, taskID string) (*domain.QueueTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM queue_tasks WHERE id = $1`, taskID)
	return scanTask(row)
}

func (s *PostgresRecordStore) UpdateTask(ctx context.Context, task *domain.QueueTask) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE queue_tasks
		SET status = $2,
			attempts = $3,
			last_error = $4,
			scheduled_at = $5,
			claimed_at = $6,
			completed_at = $7
		WHERE id = $1
	`,
		task.ID,
		string(task.Status),
		task.Attempts,
		task.LastError,
		task.ScheduledAt,
		task.ClaimedAt,
		task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRecordStore) ClaimNextTask(
	ctx context.Context,
	taskTypes []domain.TaskType,
	now time.Time,
) (*domain.QueueTask, error) {
	types := make([]string, 0, len(taskTypes))
	for _, taskType := range taskTypes {
		types = append(types, string(taskType))
	}

	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM queue_tasks
			WHERE status = 'queued'
			  AND task_type = ANY($1)
			  AND scheduled_at <= $2
			ORDER BY priority DESC, scheduled_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_tasks AS t
		SET status = 'claimed', claimed_at = $2
		FROM next
		WHERE t.id = next.id
		RETURNING t.id, t.document_id, COALESCE(t.counterpart_id::text, ''), t.comparison_id,
			t.task_type, t.priority, t.status, t.attempts, t.max_attempts, t.last_error,
			t.scheduled_at, t.claimed_at, t.completed_at, t.created_at`,
		types, now,
	)
	task, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *PostgresRecordStore) ListTasksByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	taskTypes []domain.TaskType,
) ([]*domain.QueueTask, error) {
	query := `SELECT ` + taskColumns + ` FROM queue_tasks WHERE status = $1`
	args := []any{string(status)}
	if len(taskTypes) > 0 {
		types := make([]string, 0, len(taskTypes))
		for _, taskType := range taskTypes {
			types = append(types, string(taskType))
		}
		query += ` AND task_type = ANY($2)`
		args = append(args, types)
	}
	query += ` ORDER BY scheduled_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresRecordStore) ListStaleClaims(ctx context.Context, claimedBefore time.Time) ([]*domain.QueueTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM queue_tasks WHERE status = 'claimed' AND claimed_at < $1`,
		claimedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale claims: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresRecordStore) CreateComparison(ctx context.Context, comparison *domain.Comparison) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comparisons (
			id, owner_id, left_document_id, right_document_id, status,
			similarity, summary, export_ref, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		comparison.ID,
		comparison.OwnerID,
		comparison.LeftDocumentID,
		comparison.RightDocumentID,
		string(comparison.Status),
		comparison.Similarity,
		comparison.Summary,
		comparison.ExportRef,
		comparison.CreatedAt,
		comparison.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) GetComparison(ctx context.Context, comparisonID string) (*domain.Comparison, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+comparisonColumns+` FROM comparisons WHERE id = $1`, comparisonID)
	return scanComparison(row)
}

func (s *PostgresRecordStore) UpdateComparison(ctx context.Context, comparison *domain.Comparison) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE comparisons
		SET status = $2,
			similarity = $3,
			summary = $4,
			export_ref = $5,
			updated_at = $6
		WHERE id = $1
	`,
		comparison.ID,
		string(comparison.Status),
		comparison.Similarity,
		comparison.Summary,
		comparison.ExportRef,
		comparison.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update comparison: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRecordStore) ListComparisonsByOwner(ctx context.Context, ownerID string) ([]*domain.Comparison, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+comparisonColumns+` FROM comparisons WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list comparisons: %w", err)
	}
	defer rows.Close()
	return collectComparisons(rows)
}

func (s *PostgresRecordStore) ListPendingComparisonsForDocument(
	ctx context.Context,
	documentID string,
) ([]*domain.Comparison, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+comparisonColumns+` FROM comparisons
		WHERE status = 'pending' AND (left_document_id = $1 OR right_document_id = $1)
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pending comparisons: %w", err)
	}
	defer rows.Close()
	return collectComparisons(rows)
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		document domain.Document
		mime     string
		status   string
	)
	err := row.Scan(
		&document.ID,
		&document.OwnerID,
		&document.ContentHash,
		&document.OriginalName,
		&document.SizeBytes,
		&mime,
		&document.BlobRef,
		&status,
		&document.ExtractedText,
		&document.IsStandard,
		&document.CreatedAt,
		&document.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	document.MimeCategory = domain.MimeCategory(mime)
	document.Status = domain.DocumentStatus(status)
	return &document, nil
}

func scanTask(row pgx.Row) (*domain.QueueTask, error) {
	var (
		task     domain.QueueTask
		taskType string
		status   string
	)
	err := row.Scan(
		&task.ID,
		&task.DocumentID,
		&task.CounterpartID,
		&task.ComparisonID,
		&taskType,
		&task.Priority,
		&status,
		&task.Attempts,
		&task.MaxAttempts,
		&task.LastError,
		&task.ScheduledAt,
		&task.ClaimedAt,
		&task.CompletedAt,
		&task.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.TaskType = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	return &task, nil
}

func scanComparison(row pgx.Row) (*domain.Comparison, error) {
	var (
		comparison domain.Comparison
		status     string
	)
	err := row.Scan(
		&comparison.ID,
		&comparison.OwnerID,
		&comparison.LeftDocumentID,
		&comparison.RightDocumentID,
		&status,
		&comparison.Similarity,
		&comparison.Summary,
		&comparison.ExportRef,
		&comparison.CreatedAt,
		&comparison.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan comparison: %w", err)
	}
	comparison.Status = domain.ComparisonStatus(status)
	return &comparison, nil
}

func collectTasks(rows pgx.Rows) ([]*domain.QueueTask, error) {
	tasks := make([]*domain.QueueTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate tasks: %w", rows.Err())
	}
	return tasks, nil
}

func collectComparisons(rows pgx.Rows) ([]*domain.Comparison, error) {
	comparisons := make([]*domain.Comparison, 0)
	for rows.Next() {
		comparison, err := scanComparison(rows)
		if err != nil {
			return nil, err
		}
		comparisons = append(comparisons, comparison)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate comparisons: %w", rows.Err())
	}
	return comparisons, nil
}
