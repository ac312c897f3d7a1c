package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	sqltrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/database/sql"

	"github.com/anondrop/file-service/internal/models"
	"github.com/anondrop/file-service/pkg/apperrors"
)

// Postgres error codes the store translates into caller-visible outcomes.
const (
	pqLockNotAvailable = "55P03"
	pqUniqueViolation  = "23505"
)

// PostgresStorage is the record store. It is the sole arbiter of the
// one-time-download exclusivity invariant; no in-process state is kept, so
// correctness holds across multiple server instances.
type PostgresStorage struct {
	db *sql.DB
}

// InitializePostgres connects, configures the pool and ensures the schema.
// With traced=true the driver is wrapped for APM.
func InitializePostgres(connectionString string, traced bool) (*PostgresStorage, error) {
	var db *sql.DB
	var err error
	if traced {
		sqltrace.Register("pg", &pq.Driver{})
		db, err = sqltrace.Open("pg", connectionString)
	} else {
		db, err = sql.Open("postgres", connectionString)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &PostgresStorage{db: db}
	if err := p.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	log.Println("Connected to PostgreSQL successfully")
	return p, nil
}

func (p *PostgresStorage) createTables() error {
	query := `
    CREATE TABLE IF NOT EXISTS files (
        id UUID PRIMARY KEY,
        key_file VARCHAR(64) NOT NULL UNIQUE,
        file_name VARCHAR(255) NOT NULL,
        size BIGINT NOT NULL,
        mime_type VARCHAR(255) NOT NULL,
        description TEXT,
        is_disabled BOOLEAN NOT NULL DEFAULT false,
        disabled_reason TEXT,
        expiration_date TIMESTAMPTZ,
        one_time_download BOOLEAN NOT NULL DEFAULT false,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS downloads (
        id UUID PRIMARY KEY,
        file_id UUID NOT NULL REFERENCES files(id),
        ip VARCHAR(64),
        user_agent TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS reports (
        id UUID PRIMARY KEY,
        file_id UUID NOT NULL REFERENCES files(id),
        reason VARCHAR(32) NOT NULL,
        description TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS rate_limits (
        ip VARCHAR(64) PRIMARY KEY,
        window_start TIMESTAMPTZ NOT NULL,
        count INTEGER NOT NULL
    );
    `
	if _, err := p.db.Exec(query); err != nil {
		return err
	}

	indexQuery := `
    CREATE INDEX IF NOT EXISTS idx_downloads_file_id ON downloads(file_id);
    CREATE INDEX IF NOT EXISTS idx_reports_file_id ON reports(file_id);
    CREATE INDEX IF NOT EXISTS idx_files_created_at ON files(created_at DESC);
    `
	_, err := p.db.Exec(indexQuery)
	return err
}

const fileColumns = `id, key_file, file_name, size, mime_type, description, is_disabled, disabled_reason, expiration_date, one_time_download, created_at`

func scanFileRecord(row *sql.Row) (models.FileRecord, error) {
	var rec models.FileRecord
	var description, disabledReason sql.NullString
	var expirationDate sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.KeyFile,
		&rec.FileName,
		&rec.Size,
		&rec.MimeType,
		&description,
		&rec.IsDisabled,
		&disabledReason,
		&expirationDate,
		&rec.OneTimeDownload,
		&rec.CreatedAt,
	)
	if err != nil {
		return models.FileRecord{}, err
	}

	if description.Valid {
		rec.Description = &description.String
	}
	if disabledReason.Valid {
		rec.DisabledReason = &disabledReason.String
	}
	if expirationDate.Valid {
		t := expirationDate.Time
		rec.ExpirationDate = &t
	}
	return rec, nil
}

// CreateFile inserts the record. The key_file uniqueness constraint is the
// only collision defense; a violation comes back as Conflict.
func (p *PostgresStorage) CreateFile(ctx context.Context, rec models.FileRecord) error {
	query := `
    INSERT INTO files (id, key_file, file_name, size, mime_type, description, is_disabled, disabled_reason, expiration_date, one_time_download, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := p.db.ExecContext(ctx, query,
		rec.ID,
		rec.KeyFile,
		rec.FileName,
		rec.Size,
		rec.MimeType,
		rec.Description,
		rec.IsDisabled,
		rec.DisabledReason,
		rec.ExpirationDate,
		rec.OneTimeDownload,
		rec.CreatedAt,
	)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return apperrors.Conflict(MsgKeyInUse, err)
		}
		return err
	}
	return nil
}

func (p *PostgresStorage) GetFile(ctx context.Context, keyFile string) (models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE key_file = $1`
	rec, err := scanFileRecord(p.db.QueryRowContext(ctx, query, keyFile))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FileRecord{}, apperrors.NotFound(MsgFileNotFound, err)
		}
		return models.FileRecord{}, err
	}
	return rec, nil
}

func (p *PostgresStorage) HasDownloads(ctx context.Context, fileID string) (bool, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads WHERE file_id = $1`, fileID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *PostgresStorage) LogDownload(ctx context.Context, ev models.DownloadEvent) error {
	query := `INSERT INTO downloads (id, file_id, ip, user_agent, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := p.db.ExecContext(ctx, query, ev.ID, ev.FileID, ev.IP, ev.UserAgent, ev.CreatedAt)
	return err
}

// BeginExclusiveDownload opens a transaction and takes a non-blocking
// exclusive lock on the file row. FOR UPDATE NOWAIT makes a contended lock
// fail immediately with lock_not_available, which surfaces as Conflict so
// the losing request never blocks behind the winner.
func (p *PostgresStorage) BeginExclusiveDownload(ctx context.Context, keyFile string) (ExclusiveDownload, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + fileColumns + ` FROM files WHERE key_file = $1 FOR UPDATE NOWAIT`
	rec, err := scanFileRecord(tx.QueryRowContext(ctx, query, keyFile))
	if err != nil {
		rollback(tx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, apperrors.NotFound(MsgFileNotFound, err)
		case pqCode(err) == pqLockNotAvailable:
			return nil, apperrors.Conflict(MsgDownloadBusy, err)
		}
		return nil, err
	}

	return &pgExclusiveDownload{tx: tx, rec: rec}, nil
}

func (p *PostgresStorage) CreateReport(ctx context.Context, rep models.Report) error {
	query := `INSERT INTO reports (id, file_id, reason, description, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := p.db.ExecContext(ctx, query, rep.ID, rep.FileID, rep.Reason, rep.Description, rep.CreatedAt)
	return err
}

// DisableFile marks a record unavailable with a reason. Used by the virus
// scanner; a disabled record stays disabled.
func (p *PostgresStorage) DisableFile(ctx context.Context, keyFile, reason string) error {
	query := `UPDATE files SET is_disabled = true, disabled_reason = $1 WHERE key_file = $2`
	res, err := p.db.ExecContext(ctx, query, reason, keyFile)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound(MsgFileNotFound, nil)
	}
	return nil
}

// IncrementRequestCount bumps the shared per-IP counter and returns the
// count inside the current window. The UPSERT resets the window atomically,
// so the counter is correct under concurrent requests and across instances.
func (p *PostgresStorage) IncrementRequestCount(ctx context.Context, ip string, window time.Duration) (int, error) {
	query := `
    INSERT INTO rate_limits (ip, window_start, count) VALUES ($1, NOW(), 1)
    ON CONFLICT (ip) DO UPDATE SET
        count = CASE WHEN rate_limits.window_start < NOW() - make_interval(secs => $2) THEN 1 ELSE rate_limits.count + 1 END,
        window_start = CASE WHEN rate_limits.window_start < NOW() - make_interval(secs => $2) THEN NOW() ELSE rate_limits.window_start END
    RETURNING count
    `
	var count int
	err := p.db.QueryRowContext(ctx, query, ip, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CheckConnection is used by the health endpoint.
func (p *PostgresStorage) CheckConnection(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStorage) Close() error {
	return p.db.Close()
}

// pgExclusiveDownload is an open transaction holding the row lock taken by
// BeginExclusiveDownload.
type pgExclusiveDownload struct {
	tx  *sql.Tx
	rec models.FileRecord
}

func (d *pgExclusiveDownload) File() models.FileRecord {
	return d.rec
}

func (d *pgExclusiveDownload) Downloaded(ctx context.Context) (bool, error) {
	var count int64
	err := d.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads WHERE file_id = $1`, d.rec.ID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *pgExclusiveDownload) LogDownload(ctx context.Context, ev models.DownloadEvent) error {
	query := `INSERT INTO downloads (id, file_id, ip, user_agent, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := d.tx.ExecContext(ctx, query, ev.ID, ev.FileID, ev.IP, ev.UserAgent, ev.CreatedAt)
	return err
}

func (d *pgExclusiveDownload) Commit() error {
	return d.tx.Commit()
}

func (d *pgExclusiveDownload) Rollback() error {
	if err := d.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("Error rolling back transaction: %v", err)
	}
}
