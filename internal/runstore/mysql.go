package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
)

// MySQLStore backs both RunStore and AttemptStore over a single
// injected *sql.DB.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Migrate creates the runs and attempts tables if they do not exist.
// Called once at startup before recovery.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id                VARCHAR(128) NOT NULL,
			project_id        VARCHAR(64)  NOT NULL,
			trigger_id        VARCHAR(128) NOT NULL,
			created_at        TIMESTAMP    NOT NULL,
			action            JSON         NOT NULL,
			payload           JSON,
			status            VARCHAR(16)  NOT NULL,
			latest_attempt_id VARCHAR(128) NULL,
			PRIMARY KEY (id, project_id),
			KEY idx_runs_trigger (trigger_id),
			KEY idx_runs_status (status)
		)`)
	if err != nil {
		return core.Store("migrate runs", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS attempts (
			id          VARCHAR(128) NOT NULL,
			project_id  VARCHAR(64)  NOT NULL,
			run_id      VARCHAR(128) NOT NULL,
			trigger_id  VARCHAR(128) NOT NULL,
			status      VARCHAR(16)  NOT NULL,
			details     JSON         NOT NULL,
			attempt_num INT          NOT NULL,
			created_at  TIMESTAMP    NOT NULL,
			PRIMARY KEY (id, project_id),
			KEY idx_attempts_run (run_id)
		)`)
	return core.Store("migrate attempts", err)
}

func (s *MySQLStore) StoreRun(ctx context.Context, r *model.Run) error {
	actionJSON, payloadJSON, err := encodeRunSnapshot(r)
	if err != nil {
		return core.InvalidArgument("encode run snapshot: %v", err)
	}

	// ON DUPLICATE KEY: startup recovery resubmits runs that are already
	// stored Attempting, and dispatch re-stores them on the way in.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project_id, trigger_id, created_at, action, payload, status, latest_attempt_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status), latest_attempt_id = VALUES(latest_attempt_id)`,
		r.ID, r.ProjectID, r.TriggerID, r.CreatedAt, actionJSON, payloadJSON, r.Status, nullIfEmpty(r.LatestAttemptID),
	)
	if err != nil {
		return core.Store("insert run", err)
	}
	return nil
}

func (s *MySQLStore) UpdateRun(ctx context.Context, r *model.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, latest_attempt_id = ?
		WHERE id = ? AND project_id = ?`,
		r.Status, nullIfEmpty(r.LatestAttemptID), r.ID, r.ProjectID,
	)
	if err != nil {
		return core.Store("update run", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return core.Store("update run rows affected", err)
	} else if rows == 0 {
		return core.NotFound("run", r.ID)
	}
	return nil
}

func (s *MySQLStore) GetRun(ctx context.Context, projectID, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, trigger_id, created_at, action, payload, status, latest_attempt_id
		FROM runs WHERE id = ? AND project_id = ?`, runID, projectID)
	r, err := scanRun(row)
	var nf *core.NotFoundError
	if errors.As(err, &nf) {
		return nil, core.NotFound("run", runID)
	}
	return r, err
}

func (s *MySQLStore) ListRunsByTrigger(ctx context.Context, projectID string, query model.ListRunsQuery) (model.Page[*model.RunSummary], error) {
	criteria := []string{"r.project_id = ?", "r.trigger_id = ?"}
	args := []interface{}{projectID, query.TriggerID}

	if query.Pagination.Cursor != "" {
		criteria = append(criteria, "r.id < ?")
		args = append(args, query.Pagination.Cursor)
	}
	limit := query.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}

	q := fmt.Sprintf(`
		SELECT r.id, r.project_id, r.trigger_id, r.created_at, r.action, r.payload, r.status, r.latest_attempt_id,
		       a.id, a.status, a.details, a.attempt_num, a.created_at
		FROM runs r
		LEFT JOIN attempts a ON a.id = r.latest_attempt_id AND a.project_id = r.project_id
		WHERE %s ORDER BY r.id DESC LIMIT ?`, strings.Join(criteria, " AND "))
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return model.Page[*model.RunSummary]{}, core.Store("list runs by trigger", err)
	}
	defer rows.Close()

	summaries := make([]*model.RunSummary, 0)
	for rows.Next() {
		sum, err := scanRunSummary(rows)
		if err != nil {
			return model.Page[*model.RunSummary]{}, err
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return model.Page[*model.RunSummary]{}, core.Store("iterate run summaries", err)
	}

	page := model.Page[*model.RunSummary]{Items: summaries}
	if len(summaries) > limit {
		page.Items = summaries[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	return page, nil
}

func scanRunSummary(rows *sql.Rows) (*model.RunSummary, error) {
	var (
		sum                 model.RunSummary
		actionJSON, payload []byte
		latestAttempt       sql.NullString
		attID, attStatus    sql.NullString
		attDetails          []byte
		attNum              sql.NullInt64
		attCreatedAt        sql.NullTime
	)
	err := rows.Scan(&sum.ID, &sum.ProjectID, &sum.TriggerID, &sum.CreatedAt, &actionJSON, &payload, &sum.Status, &latestAttempt,
		&attID, &attStatus, &attDetails, &attNum, &attCreatedAt)
	if err != nil {
		return nil, core.Store("scan run summary", err)
	}
	if err := json.Unmarshal(actionJSON, &sum.Action); err != nil {
		return nil, core.Store("decode run action", err)
	}
	if len(payload) > 0 {
		var p model.Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, core.Store("decode run payload", err)
		}
		sum.Payload = &p
	}
	if latestAttempt.Valid {
		sum.LatestAttemptID = latestAttempt.String
	}
	if attID.Valid {
		a := &model.Attempt{
			ID:        attID.String,
			RunID:     sum.ID,
			TriggerID: sum.TriggerID,
			ProjectID: sum.ProjectID,
			Status:    model.AttemptStatus(attStatus.String),
		}
		if attNum.Valid {
			a.AttemptNum = int(attNum.Int64)
		}
		if attCreatedAt.Valid {
			a.CreatedAt = attCreatedAt.Time
		}
		if len(attDetails) > 0 {
			if err := json.Unmarshal(attDetails, &a.Details); err != nil {
				return nil, core.Store("decode attempt details", err)
			}
		}
		sum.LatestAttempt = a
	}
	return &sum, nil
}

func (s *MySQLStore) ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, trigger_id, created_at, action, payload, status, latest_attempt_id
		FROM runs WHERE status = ?`, status)
	if err != nil {
		return nil, core.Store("list runs by status", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *MySQLStore) LogAttempt(ctx context.Context, a *model.Attempt) error {
	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return core.InvalidArgument("encode attempt details: %v", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attempts (id, project_id, run_id, trigger_id, status, details, attempt_num, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.RunID, a.TriggerID, a.Status, detailsJSON, a.AttemptNum, a.CreatedAt,
	)
	if err != nil {
		return core.Store("log attempt", err)
	}
	return nil
}

func (s *MySQLStore) ListAttemptsForRun(ctx context.Context, projectID string, query model.ListAttemptsQuery) (model.Page[*model.Attempt], error) {
	criteria := []string{"project_id = ?", "run_id = ?"}
	args := []interface{}{projectID, query.RunID}

	if query.Pagination.Cursor != "" {
		criteria = append(criteria, "id < ?")
		args = append(args, query.Pagination.Cursor)
	}
	limit := query.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}

	q := fmt.Sprintf(`
		SELECT id, project_id, run_id, trigger_id, status, details, attempt_num, created_at
		FROM attempts WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(criteria, " AND "))
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return model.Page[*model.Attempt]{}, core.Store("list attempts for run", err)
	}
	defer rows.Close()

	attempts := make([]*model.Attempt, 0)
	for rows.Next() {
		var a model.Attempt
		var detailsJSON []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.RunID, &a.TriggerID, &a.Status, &detailsJSON, &a.AttemptNum, &a.CreatedAt); err != nil {
			return model.Page[*model.Attempt]{}, core.Store("scan attempt", err)
		}
		if err := json.Unmarshal(detailsJSON, &a.Details); err != nil {
			return model.Page[*model.Attempt]{}, core.Store("decode attempt details", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return model.Page[*model.Attempt]{}, core.Store("iterate attempts", err)
	}

	page := model.Page[*model.Attempt]{Items: attempts}
	if len(attempts) > limit {
		page.Items = attempts[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var (
		r                   model.Run
		actionJSON, payload []byte
		latestAttempt       sql.NullString
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.TriggerID, &r.CreatedAt, &actionJSON, &payload, &r.Status, &latestAttempt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("run", "")
	}
	if err != nil {
		return nil, core.Store("scan run", err)
	}
	if err := json.Unmarshal(actionJSON, &r.Action); err != nil {
		return nil, core.Store("decode run action", err)
	}
	if len(payload) > 0 {
		var p model.Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, core.Store("decode run payload", err)
		}
		r.Payload = &p
	}
	if latestAttempt.Valid {
		r.LatestAttemptID = latestAttempt.String
	}
	return &r, nil
}

func scanRuns(rows *sql.Rows) ([]*model.Run, error) {
	out := make([]*model.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Store("iterate runs", err)
	}
	return out, nil
}

func encodeRunSnapshot(r *model.Run) (actionJSON, payloadJSON []byte, err error) {
	actionJSON, err = json.Marshal(r.Action)
	if err != nil {
		return nil, nil, err
	}
	if r.Payload != nil {
		payloadJSON, err = json.Marshal(r.Payload)
		if err != nil {
			return nil, nil, err
		}
	}
	return actionJSON, payloadJSON, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
