package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/iliyamo/qr-access/internal/model"
)

// Supported SQL dialects.  The values match the database/sql driver names.
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

// dbTimeLayout is the layout used for every timestamp written by the
// store.  Second precision keeps string comparison in SQLite ordered the
// same way as DATETIME comparison in MySQL.
const dbTimeLayout = "2006-01-02 15:04:05"

const qrColumns = `q.id, q.token, q.status, q.product_id, p.title, q.max_reactivations,
                   q.registered_at, q.cooldown_until, q.created_at`

// SQLStore implements Store on top of database/sql.  MySQL serializes
// per token with SELECT ... FOR UPDATE on the qr_codes row; SQLite relies
// on the single connection configured by database.Open.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore returns a store bound to db using the given dialect.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the underlying pool for maintenance commands.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the configured SQL dialect.
func (s *SQLStore) Dialect() string { return s.dialect }

// FindQrByToken returns the QR code for token or ErrNotFound.
func (s *SQLStore) FindQrByToken(ctx context.Context, token string) (model.QrCode, error) {
	q := `SELECT ` + qrColumns + `
          FROM qr_codes q
          LEFT JOIN products p ON p.id = q.product_id
          WHERE q.token = ? LIMIT 1`
	qr, err := scanQr(s.db.QueryRowContext(ctx, q, token))
	if err != nil {
		return model.QrCode{}, errors.Wrap(err, "find qr by token")
	}
	return qr, nil
}

// ListBindings returns all binding rows of a QR ordered by creation.
func (s *SQLStore) ListBindings(ctx context.Context, qrID string) ([]model.QrBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT qr_id, device_id, account_id, active, created_at, revoked_at
         FROM qr_bindings WHERE qr_id = ? ORDER BY created_at, device_id`, qrID)
	if err != nil {
		return nil, errors.Wrap(err, "list bindings")
	}
	defer rows.Close()
	var out []model.QrBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan binding")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list bindings")
	}
	return out, nil
}

// CreateQr inserts qr, filling ID, Status and CreatedAt when they are
// zero.  MaxReactivations is stored as given; use model.NewQrCode for the
// default ceiling.
func (s *SQLStore) CreateQr(ctx context.Context, qr *model.QrCode) error {
	fillQrDefaults(qr)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qr_codes (id, token, status, product_id, max_reactivations, registered_at, cooldown_until, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		qr.ID, qr.Token, string(qr.Status), nullInt(qr.ProductID), qr.MaxReactivations,
		nullTimeArg(qr.RegisteredAt), nullTimeArg(qr.CooldownUntil), formatTime(qr.CreatedAt))
	if err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(ErrConflict, "qr token %q", qr.Token)
		}
		return errors.Wrap(err, "create qr")
	}
	return nil
}

// CreateProduct inserts a catalog product and returns its ID.  Only the
// seed command needs it; catalog management lives elsewhere.
func (s *SQLStore) CreateProduct(ctx context.Context, title string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO products (title, created_at) VALUES (?, ?)`,
		title, formatTime(time.Now()))
	if err != nil {
		return 0, errors.Wrap(err, "create product")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "product id")
	}
	return id, nil
}

// WithQrLocked runs fn inside a transaction holding the QR row lock.
func (s *SQLStore) WithQrLocked(ctx context.Context, token string, fn func(tx Tx, qr model.QrCode) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `SELECT ` + qrColumns + `
          FROM qr_codes q
          LEFT JOIN products p ON p.id = q.product_id
          WHERE q.token = ? LIMIT 1`
	if s.dialect == DialectMySQL {
		q += ` FOR UPDATE`
	}
	qr, err := scanQr(tx.QueryRowContext(ctx, q, token))
	if err != nil {
		return errors.Wrap(err, "lock qr")
	}
	if err := fn(&sqlTx{tx: tx}, qr); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	committed = true
	return nil
}

// UpsertProgress inserts or updates a listening progress row.
func (s *SQLStore) UpsertProgress(ctx context.Context, p model.ListeningProgress) error {
	q := `INSERT INTO listening_progress (qr_id, device_id, track_id, account_id, position_ms, updated_at)
          VALUES (?, ?, ?, ?, ?, ?)`
	if s.dialect == DialectMySQL {
		q += ` ON DUPLICATE KEY UPDATE account_id = VALUES(account_id), position_ms = VALUES(position_ms), updated_at = VALUES(updated_at)`
	} else {
		q += ` ON CONFLICT (qr_id, device_id, track_id) DO UPDATE SET
               account_id = excluded.account_id, position_ms = excluded.position_ms, updated_at = excluded.updated_at`
	}
	_, err := s.db.ExecContext(ctx, q, p.QrID, p.DeviceID, p.TrackID, nullString(p.AccountID), p.PositionMs, formatTime(p.UpdatedAt))
	return errors.Wrap(err, "upsert progress")
}

// LatestProgress returns the most recently updated progress row for the
// QR/device pair.
func (s *SQLStore) LatestProgress(ctx context.Context, qrID, deviceID string) (model.ListeningProgress, error) {
	var (
		p       model.ListeningProgress
		account sql.NullString
		updated nullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT qr_id, device_id, track_id, account_id, position_ms, updated_at
         FROM listening_progress WHERE qr_id = ? AND device_id = ?
         ORDER BY updated_at DESC LIMIT 1`, qrID, deviceID).
		Scan(&p.QrID, &p.DeviceID, &p.TrackID, &account, &p.PositionMs, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, errors.Wrap(err, "latest progress")
	}
	p.AccountID = stringPtr(account)
	p.UpdatedAt = updated.Time
	return p, nil
}

// sqlTx implements Tx over a *sql.Tx.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) ActiveBinding(ctx context.Context, qrID string) (model.QrBinding, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT qr_id, device_id, account_id, active, created_at, revoked_at
         FROM qr_bindings WHERE qr_id = ? AND active = 1 LIMIT 1`, qrID)
	b, err := scanBinding(row)
	if err != nil {
		return b, errors.Wrap(err, "active binding")
	}
	return b, nil
}

func (t *sqlTx) FindBinding(ctx context.Context, qrID, deviceID string) (model.QrBinding, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT qr_id, device_id, account_id, active, created_at, revoked_at
         FROM qr_bindings WHERE qr_id = ? AND device_id = ? LIMIT 1`, qrID, deviceID)
	b, err := scanBinding(row)
	if err != nil {
		return b, errors.Wrap(err, "find binding")
	}
	return b, nil
}

func (t *sqlTx) CountBindings(ctx context.Context, qrID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM qr_bindings WHERE qr_id = ?`, qrID).Scan(&n)
	return n, errors.Wrap(err, "count bindings")
}

func (t *sqlTx) CountRevokedSince(ctx context.Context, qrID string, cutoff time.Time) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM qr_bindings
         WHERE qr_id = ? AND revoked_at IS NOT NULL AND revoked_at >= ?`,
		qrID, formatTime(cutoff)).Scan(&n)
	return n, errors.Wrap(err, "count revoked bindings")
}

func (t *sqlTx) CreateBinding(ctx context.Context, b model.QrBinding) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO qr_bindings (qr_id, device_id, account_id, active, created_at, revoked_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		b.QrID, b.DeviceID, nullString(b.AccountID), b.Active, formatTime(b.CreatedAt), nullTimeArg(b.RevokedAt))
	if err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(ErrConflict, "binding %s/%s", b.QrID, b.DeviceID)
		}
		return errors.Wrap(err, "create binding")
	}
	return nil
}

func (t *sqlTx) RevokeBinding(ctx context.Context, qrID, deviceID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE qr_bindings SET active = 0, revoked_at = ?
         WHERE qr_id = ? AND device_id = ? AND active = 1`,
		formatTime(at), qrID, deviceID)
	if err != nil {
		return errors.Wrap(err, "revoke binding")
	}
	return requireAffected(res, "revoke binding")
}

func (t *sqlTx) SetBindingAccount(ctx context.Context, qrID, deviceID, accountID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE qr_bindings SET account_id = ? WHERE qr_id = ? AND device_id = ?`,
		accountID, qrID, deviceID)
	if err != nil {
		return errors.Wrap(err, "set binding account")
	}
	return requireAffected(res, "set binding account")
}

func (t *sqlTx) DeleteBindings(ctx context.Context, qrID string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM qr_bindings WHERE qr_id = ?`, qrID)
	if err != nil {
		return 0, errors.Wrap(err, "delete bindings")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "delete bindings")
}

func (t *sqlTx) GetDevice(ctx context.Context, deviceID string) (model.Device, error) {
	var (
		d       model.Device
		account sql.NullString
		created nullTime
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, account_id, ua_hash, created_at FROM devices WHERE id = ? LIMIT 1`, deviceID).
		Scan(&d.ID, &account, &d.UAHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, ErrNotFound
		}
		return d, errors.Wrap(err, "get device")
	}
	d.AccountID = stringPtr(account)
	d.CreatedAt = created.Time
	return d, nil
}

func (t *sqlTx) CreateDevice(ctx context.Context, d model.Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO devices (id, account_id, ua_hash, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, nullString(d.AccountID), d.UAHash, formatTime(d.CreatedAt))
	if err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(ErrConflict, "device %s", d.ID)
		}
		return errors.Wrap(err, "create device")
	}
	return nil
}

func (t *sqlTx) SetDeviceAccount(ctx context.Context, deviceID, accountID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE devices SET account_id = ? WHERE id = ?`, accountID, deviceID)
	return errors.Wrap(err, "set device account")
}

func (t *sqlTx) UpdateQr(ctx context.Context, qr model.QrCode) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE qr_codes SET status = ?, registered_at = ?, cooldown_until = ? WHERE id = ?`,
		string(qr.Status), nullTimeArg(qr.RegisteredAt), nullTimeArg(qr.CooldownUntil), qr.ID)
	if err != nil {
		return errors.Wrap(err, "update qr")
	}
	return requireAffected(res, "update qr")
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanQr(row rowScanner) (model.QrCode, error) {
	var (
		qr         model.QrCode
		status     string
		productID  sql.NullInt64
		title      sql.NullString
		registered nullTime
		cooldown   nullTime
		created    nullTime
	)
	err := row.Scan(&qr.ID, &qr.Token, &status, &productID, &title, &qr.MaxReactivations,
		&registered, &cooldown, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return qr, ErrNotFound
		}
		return qr, err
	}
	qr.Status = model.QrStatus(status)
	if productID.Valid {
		id := productID.Int64
		qr.ProductID = &id
	}
	qr.ProductTitle = stringPtr(title)
	qr.RegisteredAt = registered.Ptr()
	qr.CooldownUntil = cooldown.Ptr()
	qr.CreatedAt = created.Time
	return qr, nil
}

func scanBinding(row rowScanner) (model.QrBinding, error) {
	var (
		b       model.QrBinding
		account sql.NullString
		created nullTime
		revoked nullTime
	)
	if err := row.Scan(&b.QrID, &b.DeviceID, &account, &b.Active, &created, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	b.AccountID = stringPtr(account)
	b.CreatedAt = created.Time
	b.RevokedAt = revoked.Ptr()
	return b, nil
}

func fillQrDefaults(qr *model.QrCode) {
	if qr.ID == "" {
		qr.ID = uuid.NewString()
	}
	if qr.Status == "" {
		qr.Status = model.QrStatusNew
	}
	if qr.CreatedAt.IsZero() {
		qr.CreatedAt = time.Now().UTC()
	}
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, op)
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, op)
	}
	return nil
}

// isDuplicate recognises unique key violations from both drivers.
// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func formatTime(t time.Time) string { return t.UTC().Format(dbTimeLayout) }

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// nullTime scans DATETIME columns from MySQL (time.Time with parseTime)
// and SQLite (time.Time or text, depending on the declared type).
type nullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	dbTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func (n *nullTime) Scan(v any) error {
	switch t := v.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = t.UTC(), true
		return nil
	case string:
		return n.parse(t)
	case []byte:
		return n.parse(string(t))
	}
	return errors.Errorf("unsupported time value %T", v)
}

func (n *nullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return errors.Errorf("unparseable time %q", s)
}

func (n nullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
