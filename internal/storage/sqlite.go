package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- targets ---

const targetColumns = `id, name, address, variant, poll_interval, active, total_checks, uptime_checks, total_downtime, last_status, created_at, updated_at`

func (s *sqliteStore) ListTargets(ctx context.Context, activeOnly bool) ([]model.Target, error) {
	q := `SELECT ` + targetColumns + ` FROM targets`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetTarget(ctx context.Context, id string) (model.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Target{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) CreateTarget(ctx context.Context, t model.Target) error {
	status, err := encodeStatus(t.LastStatus)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO targets(`+targetColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Address, string(t.Variant), t.PollInterval, boolInt(t.Active),
		t.Stats.TotalChecks, t.Stats.UptimeChecks, t.Stats.TotalDowntime, status,
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	return mapConstraint(err)
}

func (s *sqliteStore) UpdateTarget(ctx context.Context, t model.Target) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET name=?, address=?, variant=?, poll_interval=?, active=?, updated_at=? WHERE id=?`,
		t.Name, t.Address, string(t.Variant), t.PollInterval, boolInt(t.Active), t.UpdatedAt.UnixMilli(), t.ID,
	)
	return affected(res, err)
}

func (s *sqliteStore) DeleteTarget(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	return affected(res, err)
}

func (s *sqliteStore) RecordCheck(ctx context.Context, id string, r model.ProbeResult, downtime int64) (model.Target, error) {
	status, err := encodeStatus(&r)
	if err != nil {
		return model.Target{}, err
	}
	uptime := int64(0)
	if r.Healthy {
		uptime, downtime = 1, 0
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET total_checks = total_checks + 1, uptime_checks = uptime_checks + ?,
		 total_downtime = total_downtime + ?, last_status = ?, updated_at = ? WHERE id = ?`,
		uptime, downtime, status, r.CheckedAt.UnixMilli(), id,
	)
	if err := affected(res, err); err != nil {
		return model.Target{}, err
	}
	return s.GetTarget(ctx, id)
}

// --- incidents ---

const incidentColumns = `id, target_id, kind, title, description, severity, status, created_at, updated_at, resolved_at, notifications_sent, snapshot`

func (s *sqliteStore) CreateIncident(ctx context.Context, inc model.Incident) error {
	var resolved any
	if inc.ResolvedAt != nil {
		resolved = inc.ResolvedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents(`+incidentColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.TargetID, inc.Kind, inc.Title, inc.Description, string(inc.Severity), string(inc.Status),
		inc.CreatedAt.UnixMilli(), inc.UpdatedAt.UnixMilli(), resolved, boolInt(inc.NotificationsSent), nullStr(inc.Snapshot),
	)
	return mapConstraint(err)
}

func (s *sqliteStore) GetIncident(ctx context.Context, id string) (model.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, ErrNotFound
	}
	return inc, err
}

func (s *sqliteStore) FindActiveIncident(ctx context.Context, targetID, kind string, since time.Time) (model.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE target_id = ? AND kind = ? AND status = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		targetID, kind, string(model.IncidentActive), since.UnixMilli(),
	)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, ErrNotFound
	}
	return inc, err
}

func (s *sqliteStore) TouchIncident(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET updated_at = ? WHERE id = ?`, at.UnixMilli(), id)
	return affected(res, err)
}

func (s *sqliteStore) ResolveIncident(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = ?, resolved_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.IncidentResolved), at.UnixMilli(), at.UnixMilli(), id, string(model.IncidentActive),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetIncident(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *sqliteStore) MarkIncidentNotified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET notifications_sent = 1 WHERE id = ?`, id)
	return affected(res, err)
}

func (s *sqliteStore) ListIncidents(ctx context.Context, f IncidentFilter) ([]model.Incident, error) {
	var (
		where []string
		args  []any
	)
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// --- notifications ---

func (s *sqliteStore) AppendNotification(ctx context.Context, r model.NotificationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, incident_id, channel, title, message, recipient, status, error, sent_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.IncidentID, r.Channel, r.Title, r.Message, r.Recipient, string(r.Status), nullStr(r.Error), r.SentAt.UnixMilli(),
	)
	return mapConstraint(err)
}

func (s *sqliteStore) ListNotifications(ctx context.Context, f NotificationFilter) ([]model.NotificationRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.IncidentID != "" {
		where = append(where, "incident_id = ?")
		args = append(args, f.IncidentID)
	}
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, f.Channel)
	}
	q := `SELECT id, incident_id, channel, title, message, recipient, status, error, sent_at FROM notifications`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NotificationRecord
	for rows.Next() {
		var (
			r      model.NotificationRecord
			status string
			errStr sql.NullString
			sentAt int64
		)
		if err := rows.Scan(&r.ID, &r.IncidentID, &r.Channel, &r.Title, &r.Message, &r.Recipient, &status, &errStr, &sentAt); err != nil {
			return nil, err
		}
		r.Status = model.NotificationStatus(status)
		r.Error = errStr.String
		r.SentAt = time.UnixMilli(sentAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- settings ---

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// --- subscriptions ---

func (s *sqliteStore) UpsertSubscription(ctx context.Context, sub model.Subscription) error {
	if sub.LastSeen.IsZero() {
		sub.LastSeen = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(channel, recipient, wants_notifications, display_name, last_seen) VALUES(?,?,?,?,?)
		 ON CONFLICT(channel, recipient) DO UPDATE SET display_name=excluded.display_name, last_seen=excluded.last_seen`,
		sub.Channel, sub.Recipient, boolInt(sub.WantsNotifications), nullStr(sub.DisplayName), sub.LastSeen.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) SetSubscriptionWants(ctx context.Context, channel, recipient string, wants bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET wants_notifications = ? WHERE channel = ? AND recipient = ?`,
		boolInt(wants), channel, recipient,
	)
	return affected(res, err)
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, channel string, wantsOnly bool) ([]model.Subscription, error) {
	q := `SELECT channel, recipient, wants_notifications, display_name, last_seen FROM subscriptions WHERE channel = ?`
	if wantsOnly {
		q += ` AND wants_notifications = 1`
	}
	q += ` ORDER BY recipient`
	rows, err := s.db.QueryContext(ctx, q, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var (
			sub      model.Subscription
			wants    int
			name     sql.NullString
			lastSeen int64
		)
		if err := rows.Scan(&sub.Channel, &sub.Recipient, &wants, &name, &lastSeen); err != nil {
			return nil, err
		}
		sub.WantsNotifications = wants == 1
		sub.DisplayName = name.String
		sub.LastSeen = time.UnixMilli(lastSeen)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(sc scanner) (model.Target, error) {
	var (
		t         model.Target
		variant   string
		active    int
		status    sql.NullString
		createdAt int64
		updatedAt int64
	)
	err := sc.Scan(&t.ID, &t.Name, &t.Address, &variant, &t.PollInterval, &active,
		&t.Stats.TotalChecks, &t.Stats.UptimeChecks, &t.Stats.TotalDowntime, &status, &createdAt, &updatedAt)
	if err != nil {
		return model.Target{}, err
	}
	t.Variant = model.Variant(variant)
	t.Active = active == 1
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	if status.Valid && status.String != "" {
		var r model.ProbeResult
		if err := json.Unmarshal([]byte(status.String), &r); err != nil {
			return model.Target{}, fmt.Errorf("decode last_status of %s: %w", t.ID, err)
		}
		t.LastStatus = &r
	}
	return t, nil
}

func scanIncident(sc scanner) (model.Incident, error) {
	var (
		inc       model.Incident
		severity  string
		status    string
		createdAt int64
		updatedAt int64
		resolved  sql.NullInt64
		notified  int
		snapshot  sql.NullString
	)
	err := sc.Scan(&inc.ID, &inc.TargetID, &inc.Kind, &inc.Title, &inc.Description, &severity, &status,
		&createdAt, &updatedAt, &resolved, &notified, &snapshot)
	if err != nil {
		return model.Incident{}, err
	}
	inc.Severity = model.Severity(severity)
	inc.Status = model.IncidentStatus(status)
	inc.CreatedAt = time.UnixMilli(createdAt)
	inc.UpdatedAt = time.UnixMilli(updatedAt)
	if resolved.Valid {
		at := time.UnixMilli(resolved.Int64)
		inc.ResolvedAt = &at
	}
	inc.NotificationsSent = notified == 1
	inc.Snapshot = snapshot.String
	return inc, nil
}

func encodeStatus(r *model.ProbeResult) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapConstraint(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
