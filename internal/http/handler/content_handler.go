package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/adapter/ai"
	"github.com/awolfe89/sds-shopify/internal/middleware"
	"github.com/awolfe89/sds-shopify/internal/service"
)

// ContentHandler exposes the document upload and AI formatting endpoints.
type ContentHandler struct {
	Documents *service.DocumentService
	Format    *service.FormatService
}

// NewContentHandler creates the handler set.
func NewContentHandler(documents *service.DocumentService, format *service.FormatService) *ContentHandler {
	return &ContentHandler{Documents: documents, Format: format}
}

// Health reports liveness.
func (h *ContentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Upload accepts a multipart file and kicks off text extraction.
func (h *ContentHandler) Upload(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"errors": []gin.H{{
				"code":       "NO_FILE",
				"message":    "No file was uploaded",
				"suggestion": "Please select a file to upload",
			}},
		})
		return
	}
	defer file.Close()

	receipt, err := h.Documents.Submit(c.Request.Context(), service.UploadInput{
		TenantID:    identity.Tenant.ID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		h.respondUploadError(c, err)
		return
	}

	doc := receipt.Document
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"jobId":   receipt.JobID,
		"uploads": []gin.H{{
			"id":          doc.ID,
			"filename":    doc.Filename,
			"contentType": doc.ContentType,
			"fileSize":    doc.FileSize,
			"status":      doc.Status,
			"createdAt":   doc.CreatedAt.Format(time.RFC3339),
		}},
		"errors": []gin.H{},
	})
}

// UploadStatus reports extraction progress for one document.
func (h *ContentHandler) UploadStatus(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	doc, err := h.Documents.Status(identity.Tenant.ID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"document": gin.H{
			"id":            doc.ID,
			"filename":      doc.Filename,
			"contentType":   doc.ContentType,
			"fileSize":      doc.FileSize,
			"status":        doc.Status,
			"extractedText": doc.ExtractedText,
			"error":         doc.FailureReason,
			"updatedAt":     doc.UpdatedAt.Format(time.RFC3339),
		},
	})
}

type formatRequest struct {
	Text    string `json:"text"`
	Options struct {
		TargetFormat      string   `json:"targetFormat"`
		SEOKeywords       []string `json:"seoKeywords"`
		TargetLanguage    string   `json:"targetLanguage"`
		MerchantOpenAIKey string   `json:"merchantOpenAIKey"`
	} `json:"options"`
}

// FormatText runs the caller's text through AI enhancement within the
// tenant plan's limits.
func (h *ContentHandler) FormatText(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	var req formatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "MISSING_TEXT", "message": "No text was provided for formatting"},
		})
		return
	}

	out, err := h.Format.Format(c.Request.Context(), service.FormatInput{
		Tenant:         identity.Tenant,
		Text:           req.Text,
		TargetFormat:   req.Options.TargetFormat,
		SEOKeywords:    req.Options.SEOKeywords,
		TargetLanguage: req.Options.TargetLanguage,
		MerchantAPIKey: req.Options.MerchantOpenAIKey,
	})
	if err != nil {
		h.respondFormatError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"content": gin.H{
			"title":          out.Content.Title,
			"bodyHtml":       out.Content.BodyHTML,
			"tags":           out.Content.Tags,
			"seoDescription": out.Content.SEODescription,
		},
		"usage": gin.H{
			"model":         out.Content.Model,
			"tokensUsed":    out.Content.TokensUsed,
			"estimatedCost": out.EstimatedCost,
		},
	})
}

func (h *ContentHandler) respondUploadError(c *gin.Context, err error) {
	var code, message, suggestion string
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, service.ErrNoFile):
		code, message = "NO_FILE", "No file was uploaded"
		suggestion = "Please select a file to upload"
	case errors.Is(err, service.ErrFileTooLarge):
		code, message = "FILE_TOO_LARGE", "File exceeds the upload size limit"
		suggestion = "Please upload a smaller file"
	case errors.Is(err, service.ErrUnsupportedType):
		code, message = "UNSUPPORTED_TYPE", "File type is not supported"
		suggestion = "Please upload a plain text document"
	default:
		zap.L().Error("upload failure", zap.Error(err))
		status = http.StatusInternalServerError
		code, message = "UPLOAD_ERROR", "An unexpected error occurred during upload"
		suggestion = "Please try again"
	}
	c.JSON(status, gin.H{
		"success": false,
		"errors":  []gin.H{{"code": code, "message": message, "suggestion": suggestion}},
	})
}

func (h *ContentHandler) respondFormatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMissingText):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "MISSING_TEXT", "message": "No text was provided for formatting"},
		})
	case errors.Is(err, service.ErrTextTooLong):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "TEXT_TOO_LONG", "message": "Text exceeds the character limit for your plan", "suggestion": "Reduce the text length or upgrade your plan"},
		})
	case errors.Is(err, ai.ErrNoAPIKey), errors.Is(err, ai.ErrInvalidAPIKey):
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"code": "INVALID_API_KEY", "message": "No usable OpenAI API key for this request"},
		})
	case errors.Is(err, ai.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   gin.H{"code": "RATE_LIMIT_EXCEEDED", "message": "OpenAI rate limit exceeded"},
		})
	default:
		zap.L().Error("format failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": "AI_ENHANCEMENT_FAILED", "message": "Failed to enhance content"},
		})
	}
}
