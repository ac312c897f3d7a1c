package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/anondrop/file-service/internal/models"
	"github.com/anondrop/file-service/pkg/apperrors"
)

// User-facing messages, kept identical to what the pages already display.
const (
	MsgFileNotFound    = "Arquivo não encontrado"
	MsgFileExpired     = "Arquivo expirado."
	MsgFileDisabled    = "O download desse arquivo foi desabilitado."
	MsgOneTimeConsumed = "Arquivo só pode ser baixado uma vez"
	MsgDownloadBusy    = "Outro download está em andamento, tente novamente"
	MsgKeyInUse        = "Esse arquivo já foi registrado"
	MsgInternalError   = "Erro interno no servidor."
)

const (
	// DefaultOperationTimeout bounds a single lifecycle operation, locks
	// included. Past it the transaction aborts instead of holding the row.
	DefaultOperationTimeout = 10 * time.Second

	// SignedURLTTL is how long presigned GET/PUT URLs stay valid.
	SignedURLTTL = time.Hour
)

// FileStore is the persistent record store, the single source of truth for
// the one-time-download invariant. Implementations must return AppError
// values for the outcomes the lifecycle distinguishes (NotFound, Conflict).
type FileStore interface {
	CreateFile(ctx context.Context, rec models.FileRecord) error
	GetFile(ctx context.Context, keyFile string) (models.FileRecord, error)
	HasDownloads(ctx context.Context, fileID string) (bool, error)
	LogDownload(ctx context.Context, ev models.DownloadEvent) error
	// BeginExclusiveDownload opens a transaction holding an exclusive,
	// non-blocking row lock on the file. A locked row fails immediately
	// with Conflict instead of waiting.
	BeginExclusiveDownload(ctx context.Context, keyFile string) (ExclusiveDownload, error)
	CreateReport(ctx context.Context, rep models.Report) error
}

// ExclusiveDownload is an open transaction with the file row locked. The
// download event only becomes durable on Commit; Rollback after Commit is a
// no-op so callers can defer it.
type ExclusiveDownload interface {
	File() models.FileRecord
	Downloaded(ctx context.Context) (bool, error)
	LogDownload(ctx context.Context, ev models.DownloadEvent) error
	Commit() error
	Rollback() error
}

// ObjectSigner issues time-boxed capability URLs against the bucket. Calls
// are stateless and side-effect-free.
type ObjectSigner interface {
	PresignedDownload(ctx context.Context, keyFile, fileName string, ttl time.Duration) (string, error)
	PresignedUpload(ctx context.Context, keyFile, contentType string, ttl time.Duration) (string, error)
}

// EventPublisher pushes lifecycle events for out-of-process consumers
// (the notification bot). Publishing is best effort.
type EventPublisher interface {
	PublishEvent(subject string, payload interface{}) error
}

// Event subjects on the file-events stream.
const (
	SubjectFileRegistered = "files.registered"
	SubjectFileDownloaded = "files.downloaded"
	SubjectFileReported   = "files.reported"
)

// Lifecycle owns file availability: it decides whether a file may be
// downloaded right now and records that the download happened, guaranteeing
// a one-time file is never served twice even under concurrent requests
// across server instances.
type Lifecycle struct {
	store   FileStore
	signer  ObjectSigner
	events  EventPublisher
	baseURL string
	timeout time.Duration

	now func() time.Time
}

func NewLifecycle(store FileStore, signer ObjectSigner, events EventPublisher, baseURL string) *Lifecycle {
	return &Lifecycle{
		store:   store,
		signer:  signer,
		events:  events,
		baseURL: baseURL,
		timeout: DefaultOperationTimeout,
		now:     time.Now,
	}
}

// RegisterFile creates the metadata record for an object the client already
// uploaded through a presigned PUT, and returns the shareable link.
// Uniqueness of the keyFile is enforced by the store; a duplicate fails
// with Conflict.
func (l *Lifecycle) RegisterFile(ctx context.Context, rec models.FileRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = l.now().UTC()

	if err := l.store.CreateFile(ctx, rec); err != nil {
		return "", translate(err)
	}

	l.publish(SubjectFileRegistered, FileEvent{
		KeyFile:  rec.KeyFile,
		FileName: rec.FileName,
		Size:     rec.Size,
		MimeType: rec.MimeType,
	})

	return fmt.Sprintf("%s/d/%s", l.baseURL, rec.KeyFile), nil
}

// GetFileInfo returns the record projection plus the derived
// isOnceDownloaded flag. Read-only, no side effects.
func (l *Lifecycle) GetFileInfo(ctx context.Context, keyFile string) (models.FileInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	rec, err := l.store.GetFile(ctx, keyFile)
	if err != nil {
		return models.FileInfo{}, translate(err)
	}

	downloaded, err := l.store.HasDownloads(ctx, rec.ID)
	if err != nil {
		return models.FileInfo{}, translate(err)
	}

	return models.FileInfo{
		KeyFile:          rec.KeyFile,
		FileName:         rec.FileName,
		Size:             rec.Size,
		MimeType:         rec.MimeType,
		Description:      rec.Description,
		IsDisabled:       rec.IsDisabled,
		DisabledReason:   rec.DisabledReason,
		ExpirationDate:   rec.ExpirationDate,
		OneTimeDownload:  rec.OneTimeDownload,
		IsOnceDownloaded: downloaded,
	}, nil
}

// AuthorizeDownload runs the availability checks in order (exists, not
// disabled, not expired, one-time not consumed) and, when they pass, logs
// a DownloadEvent and returns a presigned GET URL. For one-time files the
// checks and the insert run inside one exclusively locked transaction, so
// of N concurrent requests exactly one wins; the rest fail with Conflict
// (lock held) or Forbidden (already consumed). The URL and the event commit
// succeed or fail together.
func (l *Lifecycle) AuthorizeDownload(ctx context.Context, keyFile string, requester models.Requester) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	rec, err := l.store.GetFile(ctx, keyFile)
	if err != nil {
		return "", translate(err)
	}

	if err := l.checkAvailable(rec); err != nil {
		return "", err
	}

	if !rec.OneTimeDownload {
		return l.authorizeShared(ctx, rec, requester)
	}
	return l.authorizeOneTime(ctx, keyFile, requester)
}

// authorizeShared handles files any number of clients may download. No
// cross-request exclusivity is needed; the event insert still has to land
// before the URL is handed out.
func (l *Lifecycle) authorizeShared(ctx context.Context, rec models.FileRecord, requester models.Requester) (string, error) {
	url, err := l.signer.PresignedDownload(ctx, rec.KeyFile, rec.FileName, SignedURLTTL)
	if err != nil {
		log.Printf("[LIFECYCLE] presign failed key=%s err=%v", rec.KeyFile, err)
		return "", translate(err)
	}

	if err := l.store.LogDownload(ctx, l.newDownloadEvent(rec.ID, requester)); err != nil {
		return "", translate(err)
	}

	l.publish(SubjectFileDownloaded, FileEvent{KeyFile: rec.KeyFile, FileName: rec.FileName, Size: rec.Size})
	return url, nil
}

// authorizeOneTime re-reads the record under an exclusive row lock and
// re-runs every check inside the transaction; the first read happened
// without the lock and may be stale.
func (l *Lifecycle) authorizeOneTime(ctx context.Context, keyFile string, requester models.Requester) (string, error) {
	tx, err := l.store.BeginExclusiveDownload(ctx, keyFile)
	if err != nil {
		return "", translate(err)
	}
	defer tx.Rollback()

	rec := tx.File()
	if err := l.checkAvailable(rec); err != nil {
		return "", err
	}

	downloaded, err := tx.Downloaded(ctx)
	if err != nil {
		return "", translate(err)
	}
	if downloaded {
		return "", apperrors.Forbidden(MsgOneTimeConsumed, nil)
	}

	// Presign while the lock is held: if signing fails nothing commits,
	// if the commit fails the URL never leaves this function.
	url, err := l.signer.PresignedDownload(ctx, rec.KeyFile, rec.FileName, SignedURLTTL)
	if err != nil {
		log.Printf("[LIFECYCLE] presign failed key=%s err=%v", rec.KeyFile, err)
		return "", translate(err)
	}

	if err := tx.LogDownload(ctx, l.newDownloadEvent(rec.ID, requester)); err != nil {
		return "", translate(err)
	}
	if err := tx.Commit(); err != nil {
		return "", translate(err)
	}

	l.publish(SubjectFileDownloaded, FileEvent{KeyFile: rec.KeyFile, FileName: rec.FileName, Size: rec.Size})
	return url, nil
}

// ReportFile files an abuse report against an existing file.
func (l *Lifecycle) ReportFile(ctx context.Context, keyFile, reason string, description *string) (models.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	rec, err := l.store.GetFile(ctx, keyFile)
	if err != nil {
		return models.Report{}, translate(err)
	}

	rep := models.Report{
		ID:          uuid.New().String(),
		FileID:      rec.ID,
		Reason:      reason,
		Description: description,
		CreatedAt:   l.now().UTC(),
	}
	if err := l.store.CreateReport(ctx, rep); err != nil {
		return models.Report{}, translate(err)
	}

	l.publish(SubjectFileReported, FileEvent{KeyFile: rec.KeyFile, FileName: rec.FileName, Reason: reason})
	return rep, nil
}

// checkAvailable runs the ordered disabled/expired checks shared by both
// download paths.
func (l *Lifecycle) checkAvailable(rec models.FileRecord) error {
	if rec.IsDisabled {
		msg := MsgFileDisabled
		if rec.DisabledReason != nil && *rec.DisabledReason != "" {
			msg = *rec.DisabledReason
		}
		return apperrors.Forbidden(msg, nil)
	}
	if rec.Expired(l.now()) {
		return apperrors.Gone(MsgFileExpired, nil)
	}
	return nil
}

func (l *Lifecycle) newDownloadEvent(fileID string, requester models.Requester) models.DownloadEvent {
	return models.DownloadEvent{
		ID:        uuid.New().String(),
		FileID:    fileID,
		IP:        requester.IP,
		UserAgent: requester.UserAgent,
		CreatedAt: l.now().UTC(),
	}
}

func (l *Lifecycle) publish(subject string, payload interface{}) {
	if l.events == nil {
		return
	}
	if err := l.events.PublishEvent(subject, payload); err != nil {
		log.Printf("[LIFECYCLE] publish failed subject=%s err=%v", subject, err)
	}
}

// FileEvent is the payload published on the file-events stream.
type FileEvent struct {
	KeyFile  string `json:"key_file"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// translate collapses store and storage failures into the public taxonomy.
// AppErrors pass through, deadline expiry becomes Timeout, everything else
// is logged and reported as a generic internal error so store diagnostics
// never reach the client.
func translate(err error) error {
	if appErr := apperrors.As(err); appErr != nil {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(MsgInternalError, err)
	}
	log.Printf("[LIFECYCLE] unexpected error: %v", err)
	return apperrors.Internal(MsgInternalError, err)
}
