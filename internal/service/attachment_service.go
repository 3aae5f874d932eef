package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type attachmentStore interface {
	FindByID(ctx context.Context, ext sqlx.ExtContext, id string) (*models.Attachment, error)
	Create(ctx context.Context, ext sqlx.ExtContext, attachment *models.Attachment) error
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
}

type attachmentStorage interface {
	SaveTemp(id string, r io.Reader) (int64, error)
	Promote(id, target string) error
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// pendingUpload is the metadata of a temp file awaiting promotion.
type pendingUpload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// uploadRegistry tracks pending uploads. Backed by redis when available so
// uploads survive a restart; falls back to process memory otherwise.
type uploadRegistry struct {
	redis *redis.Client
	ttl   time.Duration

	mu    sync.Mutex
	local map[string]pendingUpload
}

func newUploadRegistry(client *redis.Client, ttl time.Duration) *uploadRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &uploadRegistry{
		redis: client,
		ttl:   ttl,
		local: make(map[string]pendingUpload),
	}
}

func (r *uploadRegistry) store(ctx context.Context, id string, meta pendingUpload) error {
	if r.redis == nil {
		r.mu.Lock()
		r.local[id] = meta
		r.mu.Unlock()
		return nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode pending upload: %w", err)
	}
	if err := r.redis.Set(ctx, uploadKey(id), encoded, r.ttl).Err(); err != nil {
		return fmt.Errorf("register pending upload: %w", err)
	}
	return nil
}

func (r *uploadRegistry) pop(ctx context.Context, id string) (pendingUpload, bool) {
	if r.redis == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		meta, ok := r.local[id]
		if ok {
			delete(r.local, id)
		}
		return meta, ok
	}
	encoded, err := r.redis.GetDel(ctx, uploadKey(id)).Bytes()
	if err != nil {
		return pendingUpload{}, false
	}
	var meta pendingUpload
	if err := json.Unmarshal(encoded, &meta); err != nil {
		return pendingUpload{}, false
	}
	return meta, true
}

func uploadKey(id string) string {
	return "upload:" + id
}

// AttachmentService handles the two phase file upload: files land in temp
// storage with an id the client embeds in a files field, and the first
// reply save that references the id promotes it to durable storage.
type AttachmentService struct {
	attachments attachmentStore
	storage     attachmentStorage
	pending     *uploadRegistry
	audit       accessRecorder
	db          *sqlx.DB
	maxSize     int64
	logger      *zap.Logger
}

// NewAttachmentService constructs the service. redisClient may be nil.
func NewAttachmentService(attachments attachmentStore, store attachmentStorage, redisClient *redis.Client, audit accessRecorder, db *sqlx.DB, maxSize int64, logger *zap.Logger) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentService{
		attachments: attachments,
		storage:     store,
		pending:     newUploadRegistry(redisClient, 24*time.Hour),
		audit:       audit,
		db:          db,
		maxSize:     maxSize,
		logger:      logger,
	}
}

// UploadedFile describes a temp upload the client can reference in a files
// field value.
type UploadedFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// Upload streams an incoming file into temp storage and registers its
// metadata until a reply save promotes it.
func (s *AttachmentService) Upload(ctx context.Context, name, contentType string, r io.Reader) (*UploadedFile, error) {
	id := uuid.NewString()
	reader := r
	if s.maxSize > 0 {
		reader = io.LimitReader(r, s.maxSize+1)
	}
	written, err := s.storage.SaveTemp(id, reader)
	if err != nil {
		return nil, err
	}
	if s.maxSize > 0 && written > s.maxSize {
		if err := s.storage.Delete(fmt.Sprintf("temp/%s", id)); err != nil {
			s.logger.Warn("failed to remove oversized upload", zap.String("id", id), zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	meta := pendingUpload{Name: name, ContentType: contentType, SizeBytes: written}
	if err := s.pending.store(ctx, id, meta); err != nil {
		return nil, err
	}
	return &UploadedFile{ID: id, Name: name, ContentType: contentType, SizeBytes: written}, nil
}

// Promote satisfies the field store's promoter contract: it moves the temp
// file with the reference id into durable storage and creates its metadata
// row inside the caller's transaction.
func (s *AttachmentService) Promote(ctx context.Context, ext sqlx.ExtContext, ref models.AttachmentRef) (*models.Attachment, error) {
	meta, ok := s.pending.pop(ctx, ref.ID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidFieldValue, fmt.Sprintf("unknown file reference %s", ref.ID))
	}
	name := ref.Name
	if name == "" {
		name = meta.Name
	}
	target := fmt.Sprintf("attachments/%s", ref.ID)
	if err := s.storage.Promote(ref.ID, target); err != nil {
		if storeErr := s.pending.store(ctx, ref.ID, meta); storeErr != nil {
			s.logger.Warn("failed to restore pending upload", zap.String("id", ref.ID), zap.Error(storeErr))
		}
		return nil, err
	}
	attachment := &models.Attachment{
		ID:          ref.ID,
		Name:        name,
		ContentType: meta.ContentType,
		SizeBytes:   meta.SizeBytes,
		StoragePath: target,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.attachments.Create(ctx, ext, attachment); err != nil {
		return nil, err
	}
	return attachment, nil
}

// Open returns the attachment metadata and a read handle on its content.
func (s *AttachmentService) Open(ctx context.Context, metaformID, id string, actor *models.JWTClaims) (*models.Attachment, *os.File, error) {
	attachment, err := s.attachments.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	if attachment == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	file, err := s.storage.Open(attachment.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	s.audit.RecordAccess(ctx, metaformID, actorID(actor), nil, &attachment.ID, models.AuditActionView, models.AuditTargetAttachment, "")
	return attachment, file, nil
}
