package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/http/response"
	pkgerrors "github.com/brightmark/assignment-backend/internal/pkg/errors"
	"github.com/brightmark/assignment-backend/internal/platform/envutil"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/services"
)

type DocumentHandler struct {
	log     *logger.Logger
	service services.DocumentService
}

func NewDocumentHandler(log *logger.Logger, service services.DocumentService) *DocumentHandler {
	return &DocumentHandler{log: log.With("handler", "document"), service: service}
}

// ExtractDocument handles POST /api/documents/extract. Multipart form:
// "file" is the document; optional fields generate_diagrams,
// diagram_mode, subject, generation_prompt, allow_type_promotion.
func (h *DocumentHandler) ExtractDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field \"file\" required: %w", err))
		return
	}
	maxBytes := int64(envutil.Int("MAX_UPLOAD_MB", 50)) << 20
	if fileHeader.Size > maxBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Errorf("file is %d bytes, limit %d", fileHeader.Size, maxBytes))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	opts := services.ExtractOptions{
		GenerateDiagrams:   c.PostForm("generate_diagrams") == "true",
		DiagramMode:        c.DefaultPostForm("diagram_mode", services.DiagramModeIntelligent),
		SubjectHint:        c.PostForm("subject"),
		GenerationPrompt:   c.PostForm("generation_prompt"),
		AllowTypePromotion: c.PostForm("allow_type_promotion") == "true",
	}
	mimeType := fileHeader.Header.Get("Content-Type")

	a, err := h.service.ExtractDocument(c.Request.Context(), data, fileHeader.Filename, mimeType, opts)
	if err != nil {
		h.log.Error("Document extraction failed", "file", fileHeader.Filename, "error", err.Error())
		var docErr *pkgerrors.DocumentExtractionError
		switch {
		case errors.Is(err, pkgerrors.ErrUnsupportedMime):
			response.RespondError(c, http.StatusUnsupportedMediaType, "unsupported_mime", err)
		case errors.As(err, &docErr):
			response.RespondError(c, http.StatusUnprocessableEntity, "extraction_failed", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "extraction_failed", err)
		}
		return
	}
	response.RespondOK(c, a)
}

type generateDiagramsRequest struct {
	Questions          []map[string]any `json:"questions" binding:"required"`
	DiagramMode        string           `json:"diagram_mode"`
	Subject            string           `json:"subject"`
	GenerationPrompt   string           `json:"generation_prompt"`
	AllowTypePromotion bool             `json:"allow_type_promotion"`
}

// GenerateDiagrams handles POST /api/assignments/:id/diagrams: runs the
// diagram agent over an already-extracted question tree.
func (h *DocumentHandler) GenerateDiagrams(c *gin.Context) {
	assignmentID := c.Param("id")
	var req generateDiagramsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	questions, err := schema.QuestionsFromAny(anySlice(req.Questions))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questions", err)
		return
	}

	opts := services.ExtractOptions{
		DiagramMode:        req.DiagramMode,
		SubjectHint:        req.Subject,
		GenerationPrompt:   req.GenerationPrompt,
		AllowTypePromotion: req.AllowTypePromotion,
	}
	out := h.service.GenerateDiagrams(c.Request.Context(), questions, assignmentID, opts)
	response.RespondOK(c, gin.H{"questions": out})
}

func anySlice(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
