package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) UploadFile(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockObjectStore) FetchObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, bucketName, objectName)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

func (m *MockObjectStore) DeleteFile(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Error(0)
}

func (m *MockObjectStore) PresignedPut(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error) {
	args := m.Called(ctx, bucketName, objectName, expiry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func (m *MockObjectStore) PresignedGet(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error) {
	args := m.Called(ctx, bucketName, objectName, expiry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

type MockAttachmentStore struct {
	mock.Mock
}

func (m *MockAttachmentStore) Create(ctx context.Context, a *domain.Attachment) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAttachmentStore) GetByID(ctx context.Context, attachmentID uuid.UUID) (*domain.Attachment, error) {
	args := m.Called(ctx, attachmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Attachment), args.Error(1)
}

func (m *MockAttachmentStore) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*domain.Attachment, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Attachment), args.Error(1)
}

func (m *MockAttachmentStore) Delete(ctx context.Context, attachmentID uuid.UUID) error {
	args := m.Called(ctx, attachmentID)
	return args.Error(0)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	assert.NoError(t, err)
	return u
}

func TestPresignUploadRegistersAttachment(t *testing.T) {
	objects := new(MockObjectStore)
	attachments := new(MockAttachmentStore)
	service := NewService(objects, "mediconnect", attachments)

	messageID := uuid.New()

	objects.On("PresignedPut", mock.Anything, "mediconnect", mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "attachments/"+messageID.String()+"/")
	}), uploadURLValidity).Return(mustURL(t, "https://minio.local/put"), nil)
	attachments.On("Create", mock.Anything, mock.MatchedBy(func(a *domain.Attachment) bool {
		return a.MessageID == messageID && a.SizeBytes == 2048
	})).Return(nil)

	out, err := service.PresignUpload(context.Background(), &PresignUploadInput{
		MessageID:   messageID,
		ContentType: "audio/ogg",
		SizeBytes:   2048,
	})

	assert.NoError(t, err)
	assert.Equal(t, "https://minio.local/put", out.UploadURL)
	attachments.AssertExpectations(t)
}

func TestPresignUploadRejectsBadSize(t *testing.T) {
	service := NewService(new(MockObjectStore), "mediconnect", new(MockAttachmentStore))

	_, err := service.PresignUpload(context.Background(), &PresignUploadInput{
		MessageID: uuid.New(),
		SizeBytes: 0,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	_, err = service.PresignUpload(context.Background(), &PresignUploadInput{
		MessageID: uuid.New(),
		SizeBytes: maxAttachmentBytes + 1,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestPresignDownloadResolvesObjectKey(t *testing.T) {
	objects := new(MockObjectStore)
	attachments := new(MockAttachmentStore)
	service := NewService(objects, "mediconnect", attachments)

	attachmentID := uuid.New()
	attachments.On("GetByID", mock.Anything, attachmentID).Return(&domain.Attachment{
		AttachmentID: attachmentID,
		ObjectKey:    "attachments/abc/def",
	}, nil)
	objects.On("PresignedGet", mock.Anything, "mediconnect", "attachments/abc/def", downloadURLValidity).
		Return(mustURL(t, "https://minio.local/get"), nil)

	downloadURL, err := service.PresignDownload(context.Background(), attachmentID)

	assert.NoError(t, err)
	assert.Equal(t, "https://minio.local/get", downloadURL)
}

func TestFetchStreamsObject(t *testing.T) {
	objects := new(MockObjectStore)
	service := NewService(objects, "mediconnect", new(MockAttachmentStore))

	objects.On("FetchObject", mock.Anything, "mediconnect", "attachments/a/b").
		Return(io.NopCloser(strings.NewReader("voice-bytes")), "audio/ogg", nil)

	reader, contentType, err := service.Fetch(context.Background(), "attachments/a/b")

	assert.NoError(t, err)
	assert.Equal(t, "audio/ogg", contentType)
	data, _ := io.ReadAll(reader)
	assert.Equal(t, "voice-bytes", string(data))
}

func TestStoreSessionArtifact(t *testing.T) {
	objects := new(MockObjectStore)
	service := NewService(objects, "mediconnect", new(MockAttachmentStore))

	sessionID := uuid.New()
	expectedKey := "sessions/" + sessionID.String() + "/recording"

	objects.On("UploadFile", mock.Anything, "mediconnect", expectedKey, mock.Anything, int64(16), mock.Anything).
		Return(minio.UploadInfo{Key: expectedKey}, nil)

	key, err := service.StoreSessionArtifact(context.Background(), sessionID, "recording",
		strings.NewReader("0123456789abcdef"), 16, "video/webm")

	assert.NoError(t, err)
	assert.Equal(t, expectedKey, key)

	_, err = service.StoreSessionArtifact(context.Background(), sessionID, "selfie",
		strings.NewReader("x"), 1, "image/png")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestDeleteRemovesBytesThenRow(t *testing.T) {
	objects := new(MockObjectStore)
	attachments := new(MockAttachmentStore)
	service := NewService(objects, "mediconnect", attachments)

	attachmentID := uuid.New()
	attachments.On("GetByID", mock.Anything, attachmentID).Return(&domain.Attachment{
		AttachmentID: attachmentID,
		ObjectKey:    "attachments/a/b",
	}, nil)
	objects.On("DeleteFile", mock.Anything, "mediconnect", "attachments/a/b", mock.Anything).Return(nil)
	attachments.On("Delete", mock.Anything, attachmentID).Return(nil)

	assert.NoError(t, service.Delete(context.Background(), attachmentID))
	attachments.AssertExpectations(t)
}
