package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at dbPath, a file URI such as
// "file:/path/to/qalipsis.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, hence QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies the pending migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Campaigns ---

func (s *LibSQLStore) CreateCampaign(ctx context.Context, c *Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (key, scenario, status, minions, report, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Key, c.Scenario, string(c.Status), c.Minions, nullRaw(c.Report), nullStr(c.Error),
		timeOrNow(c.StartedAt), nullTime(c.CompletedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "campaign %q already exists", c.Key).WithCause(err)
	}
	return err
}

const campaignColumns = `key, scenario, status, minions, report, error, started_at, completed_at`

func (s *LibSQLStore) GetCampaign(ctx context.Context, key string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE key = ?`, key)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("campaign", key)
	}
	return c, err
}

func (s *LibSQLStore) UpdateCampaign(ctx context.Context, key string, update CampaignUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Report != nil {
		sets = append(sets, "report = ?")
		args = append(args, string(update.Report))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, key)

	query := fmt.Sprintf("UPDATE campaigns SET %s WHERE key = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "campaign", key)
}

func (s *LibSQLStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*Campaign, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Scenario != "" {
		where = append(where, "scenario = ?")
		args = append(args, filter.Scenario)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (*Campaign, error) {
	c := &Campaign{}
	var (
		status      string
		report      sql.NullString
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&c.Key, &c.Scenario, &status, &c.Minions, &report, &errMsg, &c.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	c.Status = CampaignStatus(status)
	c.Report = rawOrNil(report)
	c.Error = errMsg.String
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

// --- Events ---

// AppendEvents inserts the events in a single transaction. Each event gets
// the next sequence of its campaign.
func (s *LibSQLStore) AppendEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	next := make(map[string]int64)
	for _, e := range events {
		seq, ok := next[e.Campaign]
		if !ok {
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE campaign = ?`, e.Campaign,
			).Scan(&seq); err != nil {
				return fmt.Errorf("get next sequence: %w", err)
			}
		}
		seq++
		next[e.Campaign] = seq
		e.Sequence = seq
		e.Timestamp = timeOrNow(e.Timestamp)

		tags, err := nullableTags(e.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags of %s: %w", e.Name, err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (campaign, sequence, name, level, scenario, dag, minion, step, tags, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Campaign, seq, e.Name, e.Level, nullStr(e.Scenario), nullStr(e.DAG),
			nullStr(e.Minion), nullStr(e.Step), tags, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.Name, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// ListEvents returns the events of campaign ordered by sequence.
func (s *LibSQLStore) ListEvents(ctx context.Context, campaign string, filter EventFilter) ([]*Event, error) {
	where := []string{"campaign = ?", "sequence > ?"}
	args := []any{campaign, filter.Since}

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Step != "" {
		where = append(where, "step = ?")
		args = append(args, filter.Step)
	}

	query := `SELECT id, campaign, sequence, name, level, scenario, dag, minion, step, tags, timestamp
		FROM events WHERE ` + strings.Join(where, " AND ") + ` ORDER BY sequence ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var scenario, dag, minion, step, tags sql.NullString
		if err := rows.Scan(&e.ID, &e.Campaign, &e.Sequence, &e.Name, &e.Level,
			&scenario, &dag, &minion, &step, &tags, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Scenario = scenario.String
		e.DAG = dag.String
		e.Minion = minion.String
		e.Step = step.String
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableTags(tags map[string]string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
