package triggerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
	mysqlerr "github.com/go-sql-driver/mysql"
)

// MySQLStore is a database/sql-backed Store: a thin wrapper over an
// injected *sql.DB.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wires a configured *sql.DB, such as the one
// cmd/scheduler opens and pings at startup.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Migrate creates the triggers table if it does not exist. Called once
// at startup before recovery.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS triggers (
			id          VARCHAR(128) NOT NULL,
			project_id  VARCHAR(64)  NOT NULL,
			name        VARCHAR(255) NOT NULL,
			description TEXT,
			action      JSON         NOT NULL,
			payload     JSON,
			schedule    JSON,
			status      VARCHAR(16)  NOT NULL,
			created_at  TIMESTAMP    NOT NULL,
			updated_at  TIMESTAMP    NULL,
			last_ran_at TIMESTAMP    NULL,
			PRIMARY KEY (id, project_id),
			UNIQUE KEY uk_triggers_project_name (project_id, name),
			KEY idx_triggers_status (status)
		)`)
	return core.Store("migrate triggers", err)
}

const duplicateEntryErrNo = 1062

func isDuplicateEntry(err error) bool {
	var me *mysqlerr.MySQLError
	return errors.As(err, &me) && me.Number == duplicateEntryErrNo
}

func (s *MySQLStore) Insert(ctx context.Context, t *model.Trigger) error {
	actionJSON, err := encodeAction(t.Action)
	if err != nil {
		return core.InvalidArgument("encode action: %v", err)
	}
	payloadJSON, err := encodePayload(t.Payload)
	if err != nil {
		return core.InvalidArgument("encode payload: %v", err)
	}
	scheduleJSON, err := encodeSchedule(t.Schedule)
	if err != nil {
		return core.InvalidArgument("encode schedule: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO triggers
			(id, project_id, name, description, action, payload, schedule, status, created_at, last_ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Name, t.Description, actionJSON, payloadJSON, scheduleJSON, t.Status, t.CreatedAt, t.LastRanAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return core.AlreadyExists(t.Name)
		}
		return core.Store("insert trigger", err)
	}
	return nil
}

func (s *MySQLStore) Update(ctx context.Context, t *model.Trigger) error {
	actionJSON, err := encodeAction(t.Action)
	if err != nil {
		return core.InvalidArgument("encode action: %v", err)
	}
	payloadJSON, err := encodePayload(t.Payload)
	if err != nil {
		return core.InvalidArgument("encode payload: %v", err)
	}
	scheduleJSON, err := encodeSchedule(t.Schedule)
	if err != nil {
		return core.InvalidArgument("encode schedule: %v", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE triggers
		SET name = ?, description = ?, action = ?, payload = ?, schedule = ?,
		    status = ?, last_ran_at = ?, updated_at = NOW()
		WHERE id = ? AND project_id = ?`,
		t.Name, t.Description, actionJSON, payloadJSON, scheduleJSON, t.Status, t.LastRanAt, t.ID, t.ProjectID,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return core.AlreadyExists(t.Name)
		}
		return core.Store("update trigger", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return core.Store("update trigger rows affected", err)
	} else if rows == 0 {
		return core.NotFound("trigger", t.ID)
	}
	return nil
}

func (s *MySQLStore) Delete(ctx context.Context, projectID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ? AND project_id = ?`, id, projectID)
	if err != nil {
		return core.Store("delete trigger", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return core.Store("delete trigger rows affected", err)
	} else if rows == 0 {
		return core.NotFound("trigger", id)
	}
	return nil
}

func (s *MySQLStore) DeleteAllByProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE project_id = ?`, projectID)
	if err != nil {
		return core.Store("delete all triggers by project", err)
	}
	return nil
}

func (s *MySQLStore) GetByName(ctx context.Context, projectID, name string) (*model.Trigger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, description, action, payload, schedule, status, created_at, updated_at, last_ran_at
		FROM triggers WHERE project_id = ? AND name = ?`, projectID, name)
	t, err := scanTrigger(row)
	var nf *core.NotFoundError
	if errors.As(err, &nf) {
		return nil, core.NotFound("trigger", name)
	}
	return t, err
}

func (s *MySQLStore) FindIDByName(ctx context.Context, projectID, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM triggers WHERE project_id = ? AND name = ?`, projectID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.NotFound("trigger", name)
	}
	if err != nil {
		return "", core.Store("find trigger id by name", err)
	}
	return id, nil
}

func (s *MySQLStore) GetStatus(ctx context.Context, projectID, name string) (model.Status, error) {
	var status model.Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM triggers WHERE project_id = ? AND name = ?`, projectID, name).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.NotFound("trigger", name)
	}
	if err != nil {
		return "", core.Store("get trigger status", err)
	}
	return status, nil
}

func (s *MySQLStore) ListAlive(ctx context.Context) ([]*model.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, action, payload, schedule, status, created_at, updated_at, last_ran_at
		FROM triggers WHERE status IN (?, ?)`, model.StatusScheduled, model.StatusPaused)
	if err != nil {
		return nil, core.Store("list alive triggers", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (s *MySQLStore) ListByProject(ctx context.Context, projectID string, query model.ListTriggersQuery) (model.Page[*model.Trigger], error) {
	criteria := []string{"project_id = ?"}
	args := []interface{}{projectID}

	if query.StatusFilter != nil {
		criteria = append(criteria, "status = ?")
		args = append(args, *query.StatusFilter)
	}
	if query.Pagination.Cursor != "" {
		criteria = append(criteria, "id < ?")
		args = append(args, query.Pagination.Cursor)
	}

	limit := query.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}

	q := fmt.Sprintf(`
		SELECT id, project_id, name, description, action, payload, schedule, status, created_at, updated_at, last_ran_at
		FROM triggers WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(criteria, " AND "))
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return model.Page[*model.Trigger]{}, core.Store("list triggers by project", err)
	}
	defer rows.Close()

	triggers, err := scanTriggers(rows)
	if err != nil {
		return model.Page[*model.Trigger]{}, err
	}

	page := model.Page[*model.Trigger]{Items: triggers}
	if len(triggers) > limit {
		page.Items = triggers[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrigger(row rowScanner) (*model.Trigger, error) {
	var (
		t                              model.Trigger
		actionJSON, payloadB, schedule []byte
		updatedAt                      sql.NullTime
		lastRanAt                      sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Description, &actionJSON, &payloadB, &schedule, &t.Status, &t.CreatedAt, &updatedAt, &lastRanAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("trigger", "")
	}
	if err != nil {
		return nil, core.Store("scan trigger", err)
	}
	if err := hydrate(&t, actionJSON, payloadB, schedule, updatedAt, lastRanAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func hydrate(t *model.Trigger, actionJSON, payloadB, scheduleB []byte, updatedAt, lastRanAt sql.NullTime) error {
	action, err := decodeAction(actionJSON)
	if err != nil {
		return core.Store("decode action", err)
	}
	t.Action = action

	payload, err := decodePayload(payloadB)
	if err != nil {
		return core.Store("decode payload", err)
	}
	t.Payload = payload

	schedule, err := decodeSchedule(scheduleB)
	if err != nil {
		return core.Store("decode schedule", err)
	}
	t.Schedule = schedule

	if updatedAt.Valid {
		u := updatedAt.Time
		t.UpdatedAt = &u
	}
	if lastRanAt.Valid {
		l := lastRanAt.Time
		t.LastRanAt = &l
	}
	return nil
}

func scanTriggers(rows *sql.Rows) ([]*model.Trigger, error) {
	out := make([]*model.Trigger, 0)
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Store("iterate triggers", err)
	}
	return out, nil
}
