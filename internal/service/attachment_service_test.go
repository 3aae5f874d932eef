package service

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type stubAttachmentStore struct {
	byID    map[string]*models.Attachment
	created []*models.Attachment
}

func (s *stubAttachmentStore) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Attachment, error) {
	return s.byID[id], nil
}

func (s *stubAttachmentStore) Create(_ context.Context, _ sqlx.ExtContext, attachment *models.Attachment) error {
	s.created = append(s.created, attachment)
	return nil
}

func (s *stubAttachmentStore) Delete(_ context.Context, _ sqlx.ExtContext, _ string) error {
	return nil
}

type stubAttachmentStorage struct {
	saved    map[string][]byte
	promoted map[string]string
	deleted  []string
}

func newStubAttachmentStorage() *stubAttachmentStorage {
	return &stubAttachmentStorage{saved: map[string][]byte{}, promoted: map[string]string{}}
}

func (s *stubAttachmentStorage) SaveTemp(id string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.saved[id] = data
	return int64(len(data)), nil
}

func (s *stubAttachmentStorage) Promote(id, target string) error {
	s.promoted[id] = target
	return nil
}

func (s *stubAttachmentStorage) Open(_ string) (*os.File, error) {
	return nil, nil
}

func (s *stubAttachmentStorage) Delete(filename string) error {
	s.deleted = append(s.deleted, filename)
	return nil
}

func newAttachmentFixture(maxSize int64) (*AttachmentService, *stubAttachmentStore, *stubAttachmentStorage) {
	store := &stubAttachmentStore{byID: map[string]*models.Attachment{}}
	storage := newStubAttachmentStorage()
	svc := NewAttachmentService(store, storage, nil, &stubAudit{}, nil, maxSize, nil)
	return svc, store, storage
}

func TestAttachmentUploadAndPromote(t *testing.T) {
	svc, store, storage := newAttachmentFixture(0)

	uploaded, err := svc.Upload(context.Background(), "report.pdf", "application/pdf", strings.NewReader("content"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), uploaded.SizeBytes)
	assert.Contains(t, storage.saved, uploaded.ID)

	attachment, err := svc.Promote(context.Background(), nil, models.AttachmentRef{ID: uploaded.ID})
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", attachment.Name)
	assert.Equal(t, "attachments/"+uploaded.ID, attachment.StoragePath)
	assert.Equal(t, "attachments/"+uploaded.ID, storage.promoted[uploaded.ID])
	require.Len(t, store.created, 1)

	// the pending registration is consumed by the first promotion
	_, err = svc.Promote(context.Background(), nil, models.AttachmentRef{ID: uploaded.ID})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidFieldValue))
}

func TestAttachmentUploadRejectsOversizedFile(t *testing.T) {
	svc, _, storage := newAttachmentFixture(4)

	_, err := svc.Upload(context.Background(), "big.bin", "application/octet-stream", strings.NewReader("too large"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
	require.Len(t, storage.deleted, 1)
	assert.Contains(t, storage.deleted[0], "temp/")
}

func TestAttachmentPromoteUnknownReference(t *testing.T) {
	svc, _, _ := newAttachmentFixture(0)

	_, err := svc.Promote(context.Background(), nil, models.AttachmentRef{ID: "ghost"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidFieldValue))
}

func TestAttachmentPromoteKeepsRefNameOverUploadName(t *testing.T) {
	svc, _, _ := newAttachmentFixture(0)

	uploaded, err := svc.Upload(context.Background(), "original.txt", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)

	attachment, err := svc.Promote(context.Background(), nil, models.AttachmentRef{ID: uploaded.ID, Name: "renamed.txt"})
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", attachment.Name)
}

func TestAttachmentOpenUnknown(t *testing.T) {
	svc, _, _ := newAttachmentFixture(0)

	_, _, err := svc.Open(context.Background(), "mf-1", "ghost", adminActor())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
