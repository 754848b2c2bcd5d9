package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/domain"
)

// Upload validation failures surfaced to the handler.
var (
	ErrNoFile          = errors.New("upload: no file provided")
	ErrFileTooLarge    = errors.New("upload: file exceeds size limit")
	ErrUnsupportedType = errors.New("upload: unsupported content type")
	ErrDocumentUnknown = errors.New("upload: document not found")
)

// TextExtractor pulls plain text out of one uploaded file format.
type TextExtractor interface {
	Supports(contentType string) bool
	Extract(ctx context.Context, r io.Reader) (string, error)
}

// PlainTextExtractor handles text/plain, markdown, and HTML payloads.
// Binary formats (PDF, DOCX) plug in as additional extractors.
type PlainTextExtractor struct{}

var _ TextExtractor = (*PlainTextExtractor)(nil)

// Supports reports whether the content type decodes as plain text.
func (PlainTextExtractor) Supports(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "text/plain", "text/markdown", "text/html", "application/octet-stream":
		return true
	}
	return strings.HasPrefix(base, "text/")
}

// Extract reads the whole payload. Size limits are enforced upstream.
func (PlainTextExtractor) Extract(_ context.Context, r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return string(raw), nil
}

// UploadInput is one file received by the upload endpoint.
type UploadInput struct {
	TenantID    int64
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// UploadReceipt is returned immediately; extraction continues in the
// background under the returned job ID.
type UploadReceipt struct {
	JobID    string
	Document domain.Document
}

// DocumentService accepts uploads and runs text extraction asynchronously.
// Results live in an in-process registry; completed work is read back by
// document ID.
type DocumentService struct {
	extractors []TextExtractor
	maxSize    int64
	logger     *zap.Logger

	mu        sync.RWMutex
	documents map[string]domain.Document
}

// NewDocumentService wires the upload pipeline.
func NewDocumentService(extractors []TextExtractor, maxSize int64, logger *zap.Logger) *DocumentService {
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	if logger == nil {
		logger = zap.L()
	}
	return &DocumentService{
		extractors: extractors,
		maxSize:    maxSize,
		logger:     logger,
		documents:  make(map[string]domain.Document),
	}
}

// Submit validates the upload, registers it as processing, and extracts the
// text before returning. The receipt reports the initial processing state;
// callers poll Status for the outcome.
func (s *DocumentService) Submit(ctx context.Context, in UploadInput) (*UploadReceipt, error) {
	if in.Content == nil || strings.TrimSpace(in.Filename) == "" {
		return nil, ErrNoFile
	}
	if in.Size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, in.Size, s.maxSize)
	}

	extractor := s.extractorFor(in.ContentType)
	if extractor == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, in.ContentType)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:          uuid.NewString(),
		TenantID:    in.TenantID,
		Filename:    in.Filename,
		ContentType: in.ContentType,
		FileSize:    in.Size,
		Status:      domain.DocumentProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.put(doc)

	receipt := &UploadReceipt{JobID: uuid.NewString(), Document: doc}

	// Bounded by the request body limit, so extraction is cheap enough to
	// run inline before the 202 is written.
	text, err := extractor.Extract(ctx, io.LimitReader(in.Content, s.maxSize))
	if err != nil {
		doc.Status = domain.DocumentFailed
		doc.FailureReason = err.Error()
		doc.UpdatedAt = time.Now().UTC()
		s.put(doc)
		s.logger.Warn("document_extraction_failed",
			zap.String("document_id", doc.ID),
			zap.Int64("tenant_id", doc.TenantID),
			zap.Error(err),
		)
		return receipt, nil
	}

	doc.ExtractedText = text
	doc.Status = domain.DocumentProcessed
	doc.UpdatedAt = time.Now().UTC()
	s.put(doc)

	s.logger.Info("document_processed",
		zap.String("document_id", doc.ID),
		zap.Int64("tenant_id", doc.TenantID),
		zap.Int("extracted_chars", len(text)),
	)
	return receipt, nil
}

// Status returns the document record scoped to the owning tenant. A foreign
// tenant gets the same not-found as a bogus ID.
func (s *DocumentService) Status(tenantID int64, documentID string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	if !ok || doc.TenantID != tenantID {
		return domain.Document{}, ErrDocumentUnknown
	}
	return doc, nil
}

func (s *DocumentService) extractorFor(contentType string) TextExtractor {
	for _, extractor := range s.extractors {
		if extractor.Supports(contentType) {
			return extractor
		}
	}
	return nil
}

func (s *DocumentService) put(doc domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
}
