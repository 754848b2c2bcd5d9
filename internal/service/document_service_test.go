package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/domain"
)

func newDocumentService(maxSize int64) *DocumentService {
	return NewDocumentService([]TextExtractor{PlainTextExtractor{}}, maxSize, zap.NewNop())
}

func TestDocumentSubmitExtractsText(t *testing.T) {
	svc := newDocumentService(1 << 20)

	receipt, err := svc.Submit(context.Background(), UploadInput{
		TenantID:    7,
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Size:        11,
		Content:     strings.NewReader("hello world"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.JobID)
	require.Equal(t, domain.DocumentProcessing, receipt.Document.Status)

	doc, err := svc.Status(7, receipt.Document.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DocumentProcessed, doc.Status)
	require.Equal(t, "hello world", doc.ExtractedText)
	require.Equal(t, "notes.txt", doc.Filename)
}

func TestDocumentSubmitValidation(t *testing.T) {
	svc := newDocumentService(64)
	ctx := context.Background()

	_, err := svc.Submit(ctx, UploadInput{TenantID: 7, ContentType: "text/plain"})
	require.ErrorIs(t, err, ErrNoFile)

	_, err = svc.Submit(ctx, UploadInput{
		TenantID:    7,
		Filename:    "big.txt",
		ContentType: "text/plain",
		Size:        128,
		Content:     strings.NewReader(strings.Repeat("a", 128)),
	})
	require.ErrorIs(t, err, ErrFileTooLarge)

	_, err = svc.Submit(ctx, UploadInput{
		TenantID:    7,
		Filename:    "binary.pdf",
		ContentType: "application/pdf",
		Size:        10,
		Content:     strings.NewReader("%PDF-1.4"),
	})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDocumentStatusScopedToTenant(t *testing.T) {
	svc := newDocumentService(1 << 20)

	receipt, err := svc.Submit(context.Background(), UploadInput{
		TenantID:    7,
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Size:        5,
		Content:     strings.NewReader("hello"),
	})
	require.NoError(t, err)

	_, err = svc.Status(8, receipt.Document.ID)
	require.ErrorIs(t, err, ErrDocumentUnknown)

	_, err = svc.Status(7, "no-such-document")
	require.ErrorIs(t, err, ErrDocumentUnknown)
}
