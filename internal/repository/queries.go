package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/entity"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is bound to either the pool or one transaction.
type Queries struct {
	db      querier
	dialect dialect
}

const fileColumns = "id, report_id, type, category, status, s3_bucket, s3_key, error, created_at, updated_at"

// rebind turns ? placeholders into $n for postgres.
func (q *Queries) rebind(query string) string {
	if q.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dbErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.NewAppError("NOT_FOUND", what+" not found", common.ErrNotFound)
	}
	return common.NewAppError("DB_ERROR", what, fmt.Errorf("%w: %v", common.ErrDatabase, err))
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func (q *Queries) CreateReport(ctx context.Context, companyName string) (*entity.Report, error) {
	r := &entity.Report{CompanyName: companyName, CreatedAt: now()}
	r.UpdatedAt = r.CreatedAt
	err := q.db.QueryRowContext(ctx,
		q.rebind("INSERT INTO reports (company_name, created_at, updated_at) VALUES (?, ?, ?) RETURNING id"),
		r.CompanyName, r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
	if err != nil {
		return nil, dbErr(err, "create report")
	}
	return r, nil
}

func (q *Queries) GetReport(ctx context.Context, id int64) (*entity.Report, error) {
	return q.getReport(ctx, id, false)
}

// LockReport reads the report row and, on postgres, holds a row lock until the
// transaction ends. sqlite serializes writers on its single connection.
func (q *Queries) LockReport(ctx context.Context, id int64) (*entity.Report, error) {
	return q.getReport(ctx, id, true)
}

func (q *Queries) getReport(ctx context.Context, id int64, lock bool) (*entity.Report, error) {
	query := "SELECT id, company_name, created_at, updated_at FROM reports WHERE id = ?"
	if lock && q.dialect == dialectPostgres {
		query += " FOR UPDATE"
	}
	var r entity.Report
	var created, updated dbTime
	if err := q.db.QueryRowContext(ctx, q.rebind(query), id).Scan(&r.ID, &r.CompanyName, &created, &updated); err != nil {
		return nil, dbErr(err, fmt.Sprintf("report %d", id))
	}
	r.CreatedAt, r.UpdatedAt = created.Time, updated.Time
	return &r, nil
}

func (q *Queries) ListReports(ctx context.Context) ([]entity.Report, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT id, company_name, created_at, updated_at FROM reports ORDER BY id DESC")
	if err != nil {
		return nil, dbErr(err, "list reports")
	}
	defer rows.Close()

	var out []entity.Report
	for rows.Next() {
		var r entity.Report
		var created, updated dbTime
		if err := rows.Scan(&r.ID, &r.CompanyName, &created, &updated); err != nil {
			return nil, dbErr(err, "scan report")
		}
		r.CreatedAt, r.UpdatedAt = created.Time, updated.Time
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "list reports")
	}
	return out, nil
}

// DeleteReport removes the report and its files.
func (q *Queries) DeleteReport(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, q.rebind("DELETE FROM report_files WHERE report_id = ?"), id); err != nil {
		return dbErr(err, "delete report files")
	}
	res, err := q.db.ExecContext(ctx, q.rebind("DELETE FROM reports WHERE id = ?"), id)
	if err != nil {
		return dbErr(err, "delete report")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dbErr(sql.ErrNoRows, fmt.Sprintf("report %d", id))
	}
	return nil
}

func (q *Queries) TouchReport(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, q.rebind("UPDATE reports SET updated_at = ? WHERE id = ?"), now(), id); err != nil {
		return dbErr(err, "touch report")
	}
	return nil
}

func (q *Queries) FilesForReport(ctx context.Context, reportID int64) ([]entity.ReportFile, error) {
	rows, err := q.db.QueryContext(ctx,
		q.rebind("SELECT "+fileColumns+" FROM report_files WHERE report_id = ? ORDER BY id"), reportID)
	if err != nil {
		return nil, dbErr(err, "list files")
	}
	defer rows.Close()

	var out []entity.ReportFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "list files")
	}
	return out, nil
}

func (q *Queries) GetFile(ctx context.Context, reportID, fileID int64) (*entity.ReportFile, error) {
	row := q.db.QueryRowContext(ctx,
		q.rebind("SELECT "+fileColumns+" FROM report_files WHERE report_id = ? AND id = ?"), reportID, fileID)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, dbErr(sql.ErrNoRows, fmt.Sprintf("file %d of report %d", fileID, reportID))
		}
		return nil, err
	}
	return f, nil
}

// InsertFile stores f and fills in its id and timestamps.
func (q *Queries) InsertFile(ctx context.Context, f *entity.ReportFile) error {
	f.CreatedAt = now()
	f.UpdatedAt = f.CreatedAt
	err := q.db.QueryRowContext(ctx,
		q.rebind(`INSERT INTO report_files (report_id, type, category, status, s3_bucket, s3_key, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		f.ReportID, string(f.Type), string(f.Category), string(f.Status), f.S3Bucket, f.S3Key, nullString(f.Error),
		f.CreatedAt, f.UpdatedAt,
	).Scan(&f.ID)
	if err != nil {
		return dbErr(err, "insert file")
	}
	return nil
}

// UpdateFile writes status, type and error of f and bumps updated_at.
func (q *Queries) UpdateFile(ctx context.Context, f *entity.ReportFile) error {
	f.UpdatedAt = now()
	_, err := q.db.ExecContext(ctx,
		q.rebind("UPDATE report_files SET type = ?, status = ?, error = ?, updated_at = ? WHERE id = ?"),
		string(f.Type), string(f.Status), nullString(f.Error), f.UpdatedAt, f.ID,
	)
	if err != nil {
		return dbErr(err, "update file")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*entity.ReportFile, error) {
	var (
		f                     entity.ReportFile
		typ, category, status string
		errText               sql.NullString
		created, updated      dbTime
	)
	if err := s.Scan(&f.ID, &f.ReportID, &typ, &category, &status, &f.S3Bucket, &f.S3Key, &errText, &created, &updated); err != nil {
		return nil, dbErr(err, "file")
	}
	var err error
	if f.Type, err = constants.ParseFileType(typ); err != nil {
		return nil, dbErr(err, "file type")
	}
	if f.Category, err = constants.ParseFileCategory(category); err != nil {
		return nil, dbErr(err, "file category")
	}
	if f.Status, err = constants.ParseFileStatus(status); err != nil {
		return nil, dbErr(err, "file status")
	}
	if errText.Valid {
		f.Error = &errText.String
	}
	f.CreatedAt, f.UpdatedAt = created.Time, updated.Time
	return &f, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// dbTime scans timestamps from drivers that hand back time.Time or text.
type dbTime struct{ time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		t.Time = x.UTC()
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
