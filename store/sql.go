package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/safe-forge/interfaces"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) blobType() string {
	if d == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// rebind rewrites '?' placeholders to $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	blob := d.blobType()
	return []string{
		`CREATE TABLE IF NOT EXISTS forge_admins (
			principal ` + blob + ` PRIMARY KEY,
			added_by ` + blob + ` NOT NULL,
			added_at BIGINT NOT NULL,
			seq BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS forge_templates (
			name TEXT PRIMARY KEY,
			code ` + blob + ` NOT NULL,
			code_id ` + blob + ` NOT NULL,
			status SMALLINT NOT NULL,
			registrant ` + blob + ` NOT NULL,
			approver ` + blob + ` NOT NULL,
			registered_at BIGINT NOT NULL,
			approved_at BIGINT NOT NULL DEFAULT 0,
			seq BIGINT NOT NULL,
			approved_seq BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS forge_events (
			event_id BIGINT PRIMARY KEY,
			template_name TEXT NOT NULL REFERENCES forge_templates(name),
			deployment_data ` + blob + ` NOT NULL,
			caller ` + blob + ` NOT NULL,
			code_id ` + blob + ` NOT NULL,
			created_at BIGINT NOT NULL,
			digest ` + blob + ` NOT NULL
		)`,
	}
}

// SQLStore persists forge state in three tables. Every write is a single
// statement, so a failed write leaves the tables unchanged.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

var _ interfaces.StateStore = (*SQLStore)(nil)

// NewSQLStore wraps db and creates the schema if missing.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, log *slog.Logger) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", s.dialect, err)
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) Load(ctx context.Context) (*interfaces.Snapshot, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snapshot := &interfaces.Snapshot{}

	if snapshot.Admins, err = loadAdmins(ctx, tx); err != nil {
		return nil, err
	}
	if snapshot.Templates, err = loadTemplates(ctx, tx); err != nil {
		return nil, err
	}
	if snapshot.Events, err = loadEvents(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to finish load: %w", err)
	}

	s.log.Debug("Loaded forge state",
		slog.String("dialect", s.dialect.String()),
		slog.Int("admins", len(snapshot.Admins)),
		slog.Int("templates", len(snapshot.Templates)),
		slog.Int("events", len(snapshot.Events)),
		slog.Duration("duration", time.Since(start)))

	return snapshot, nil
}

func loadAdmins(ctx context.Context, tx *sql.Tx) ([]interfaces.Admin, error) {
	rows, err := tx.QueryContext(ctx, `SELECT principal, added_by, added_at, seq FROM forge_admins ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var admins []interfaces.Admin
	for rows.Next() {
		var principal, addedBy []byte
		var addedAt, seq int64
		if err := rows.Scan(&principal, &addedBy, &addedAt, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, interfaces.Admin{
			Principal: toPrincipal(principal),
			AddedBy:   toPrincipal(addedBy),
			AddedAt:   fromUnixNano(addedAt),
			Seq:       uint64(seq),
		})
	}
	return admins, rows.Err()
}

func loadTemplates(ctx context.Context, tx *sql.Tx) ([]interfaces.Template, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, code, code_id, status, registrant, approver, registered_at, approved_at, seq, approved_seq FROM forge_templates ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []interfaces.Template
	for rows.Next() {
		var (
			name                               string
			code, codeID, registrant, approver []byte
			status                             int
			registeredAt, approvedAt           int64
			seq, approvedSeq                   int64
		)
		if err := rows.Scan(&name, &code, &codeID, &status, &registrant, &approver, &registeredAt, &approvedAt, &seq, &approvedSeq); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		id, err := interfaces.NewContentIDFromBytes(codeID)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", name, err)
		}
		templates = append(templates, interfaces.Template{
			Name:         interfaces.TemplateName(name),
			Code:         append([]byte{}, code...),
			CodeID:       id,
			Status:       interfaces.TemplateStatus(status),
			Registrant:   toPrincipal(registrant),
			Approver:     toPrincipal(approver),
			RegisteredAt: fromUnixNano(registeredAt),
			ApprovedAt:   fromUnixNano(approvedAt),
			Seq:          uint64(seq),
			ApprovedSeq:  uint64(approvedSeq),
		})
	}
	return templates, rows.Err()
}

func loadEvents(ctx context.Context, tx *sql.Tx) ([]interfaces.GenerationEvent, error) {
	rows, err := tx.QueryContext(ctx, `SELECT event_id, template_name, deployment_data, caller, code_id, created_at, digest FROM forge_events ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []interfaces.GenerationEvent
	for rows.Next() {
		var (
			eventID, createdAt           int64
			name                         string
			data, caller, codeID, digest []byte
		)
		if err := rows.Scan(&eventID, &name, &data, &caller, &codeID, &createdAt, &digest); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		id, err := interfaces.NewContentIDFromBytes(codeID)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", eventID, err)
		}
		events = append(events, interfaces.GenerationEvent{
			EventID:        uint64(eventID),
			TemplateName:   interfaces.TemplateName(name),
			DeploymentData: append([]byte{}, data...),
			Caller:         toPrincipal(caller),
			CodeID:         id,
			CreatedAt:      fromUnixNano(createdAt),
			Digest:         common.BytesToHash(digest),
		})
	}
	return events, rows.Err()
}

func (s *SQLStore) InsertAdmin(ctx context.Context, admin interfaces.Admin) error {
	_, err := s.exec(ctx,
		`INSERT INTO forge_admins (principal, added_by, added_at, seq) VALUES (?, ?, ?, ?)`,
		admin.Principal.Bytes(), admin.AddedBy.Bytes(), toUnixNano(admin.AddedAt), int64(admin.Seq))
	if err != nil {
		return fmt.Errorf("failed to insert admin: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertTemplate(ctx context.Context, t interfaces.Template) error {
	_, err := s.exec(ctx,
		`INSERT INTO forge_templates (name, code, code_id, status, registrant, approver, registered_at, approved_at, seq, approved_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name.String(), nonNil(t.Code), t.CodeID.Bytes(), int(t.Status), t.Registrant.Bytes(), t.Approver.Bytes(),
		toUnixNano(t.RegisteredAt), toUnixNano(t.ApprovedAt), int64(t.Seq), int64(t.ApprovedSeq))
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

func (s *SQLStore) ApproveTemplate(ctx context.Context, name interfaces.TemplateName, approver interfaces.Principal, seq uint64, at time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE forge_templates SET status = ?, approver = ?, approved_at = ?, approved_seq = ? WHERE name = ? AND status = ?`,
		int(interfaces.StatusApproved), approver.Bytes(), toUnixNano(at), int64(seq), name.String(), int(interfaces.StatusRegistered))
	if err != nil {
		return fmt.Errorf("failed to approve template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to approve template: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: no registered template %q", ErrNotFound, name)
	}
	return nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, e interfaces.GenerationEvent) error {
	_, err := s.exec(ctx,
		`INSERT INTO forge_events (event_id, template_name, deployment_data, caller, code_id, created_at, digest) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(e.EventID), e.TemplateName.String(), nonNil(e.DeploymentData), e.Caller.Bytes(), e.CodeID.Bytes(),
		toUnixNano(e.CreatedAt), e.Digest.Bytes())
	if err != nil {
		return fmt.Errorf("failed to append event %d: %w", e.EventID, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func toPrincipal(b []byte) interfaces.Principal {
	return interfaces.Principal(common.BytesToAddress(b))
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
