package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
)

// ObjectStore is the object storage surface the service needs,
// satisfied by MinioClient.
type ObjectStore interface {
	UploadFile(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FetchObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, string, error)
	DeleteFile(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedPut(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error)
	PresignedGet(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error)
}

// AttachmentStore persists attachment metadata rows.
type AttachmentStore interface {
	Create(ctx context.Context, a *domain.Attachment) error
	GetByID(ctx context.Context, attachmentID uuid.UUID) (*domain.Attachment, error)
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*domain.Attachment, error)
	Delete(ctx context.Context, attachmentID uuid.UUID) error
}

// Service stores message attachments and session artifacts. Attachment
// bytes never transit this backend: clients get a presigned PUT and
// upload directly.
type Service struct {
	objects     ObjectStore
	bucketName  string
	attachments AttachmentStore
}

// NewService creates a new storage service.
func NewService(objects ObjectStore, bucketName string, attachments AttachmentStore) *Service {
	return &Service{
		objects:     objects,
		bucketName:  bucketName,
		attachments: attachments,
	}
}

const (
	uploadURLValidity   = 15 * time.Minute
	downloadURLValidity = time.Hour
	maxAttachmentBytes  = 100 << 20
)

// PresignUploadInput describes the attachment a client wants to store.
type PresignUploadInput struct {
	MessageID   uuid.UUID
	ContentType string
	SizeBytes   int64
}

// PresignUploadOutput carries the presigned PUT target.
type PresignUploadOutput struct {
	AttachmentID uuid.UUID
	UploadURL    string
	ExpiresAt    time.Time
}

// PresignUpload registers an attachment and returns a presigned PUT
// URL for the bytes.
func (s *Service) PresignUpload(ctx context.Context, input *PresignUploadInput) (*PresignUploadOutput, error) {
	if input.SizeBytes <= 0 || input.SizeBytes > maxAttachmentBytes {
		return nil, apperrors.InvalidInputError("attachment size out of range")
	}

	attachmentID := uuid.New()
	objectKey := fmt.Sprintf("attachments/%s/%s", input.MessageID, attachmentID)

	presignedURL, err := s.objects.PresignedPut(ctx, s.bucketName, objectKey, uploadURLValidity)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	attachment := &domain.Attachment{
		AttachmentID: attachmentID,
		MessageID:    input.MessageID,
		ObjectKey:    objectKey,
		ContentType:  input.ContentType,
		SizeBytes:    input.SizeBytes,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.attachments.Create(ctx, attachment); err != nil {
		return nil, err
	}

	return &PresignUploadOutput{
		AttachmentID: attachmentID,
		UploadURL:    presignedURL.String(),
		ExpiresAt:    time.Now().Add(uploadURLValidity),
	}, nil
}

// PresignDownload returns a presigned GET URL for an attachment.
func (s *Service) PresignDownload(ctx context.Context, attachmentID uuid.UUID) (string, error) {
	attachment, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return "", err
	}

	presignedURL, err := s.objects.PresignedGet(ctx, s.bucketName, attachment.ObjectKey, downloadURLValidity)
	if err != nil {
		return "", apperrors.StorageError(err)
	}

	return presignedURL.String(), nil
}

// GetAttachment returns one attachment row.
func (s *Service) GetAttachment(ctx context.Context, attachmentID uuid.UUID) (*domain.Attachment, error) {
	return s.attachments.GetByID(ctx, attachmentID)
}

// ListByMessage lists a message's attachments.
func (s *Service) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*domain.Attachment, error) {
	return s.attachments.ListByMessage(ctx, messageID)
}

// Fetch streams a stored object, used by the transcription pipeline.
func (s *Service) Fetch(ctx context.Context, objectKey string) (io.ReadCloser, string, error) {
	reader, contentType, err := s.objects.FetchObject(ctx, s.bucketName, objectKey)
	if err != nil {
		return nil, "", apperrors.StorageError(err)
	}
	return reader, contentType, nil
}

// StoreSessionArtifact uploads a recording or transcript produced by a
// consultation session and returns its object key.
func (s *Service) StoreSessionArtifact(ctx context.Context, sessionID uuid.UUID, kind string, data io.Reader, size int64, contentType string) (string, error) {
	if kind != "recording" && kind != "transcript" {
		return "", apperrors.InvalidInputError("unknown artifact kind")
	}

	objectKey := fmt.Sprintf("sessions/%s/%s", sessionID, kind)
	_, err := s.objects.UploadFile(ctx, s.bucketName, objectKey, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", apperrors.StorageError(err)
	}

	return objectKey, nil
}

// Delete removes an attachment's bytes and metadata.
func (s *Service) Delete(ctx context.Context, attachmentID uuid.UUID) error {
	attachment, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return err
	}

	if err := s.objects.DeleteFile(ctx, s.bucketName, attachment.ObjectKey, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.StorageError(err)
	}

	return s.attachments.Delete(ctx, attachmentID)
}
