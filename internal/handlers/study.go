package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/services"
)

type studyContentService interface {
	GenerateStudyContent(ctx context.Context, exam *models.ExamData, subject, topic string) (*models.StudyContent, error)
	ExpandStudyContent(ctx context.Context, exam *models.ExamData, topic, currentContent string) (string, error)
	AskStudyTutor(ctx context.Context, currentContent, question string) (string, error)
	GenerateStepByStep(ctx context.Context, topic, currentContent string) (string, error)
}

type materialExtractor interface {
	Extract(filename string, data []byte) (string, error)
}

// StudyHandler serves the study room of an exam: generated lessons, the
// tutor and uploaded study material.
type StudyHandler struct {
	exams          *ExamHandler
	content        studyContentService
	extractor      materialExtractor
	maxUploadBytes int64
	log            *zap.Logger
}

func NewStudyHandler(exams *ExamHandler, content studyContentService, extractor materialExtractor, maxUploadMB int, log *zap.Logger) *StudyHandler {
	return &StudyHandler{
		exams:          exams,
		content:        content,
		extractor:      extractor,
		maxUploadBytes: int64(maxUploadMB) << 20,
		log:            log,
	}
}

type assistResponse struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
}

func (h *StudyHandler) Content(w http.ResponseWriter, r *http.Request) {
	var req models.StudyContentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Subject, req.Topic = strings.TrimSpace(req.Subject), strings.TrimSpace(req.Topic)
	if req.Subject == "" {
		validationFailed(w, r, "subject", "SubjectRequired")
		return
	}
	if req.Topic == "" {
		validationFailed(w, r, "topic", "TopicRequired")
		return
	}

	exam, ok := h.exams.loadExam(w, r)
	if !ok {
		return
	}
	content, err := h.content.GenerateStudyContent(r.Context(), &exam.Data, req.Subject, req.Topic)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (h *StudyHandler) Expand(w http.ResponseWriter, r *http.Request) {
	var req models.ExpandContentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		validationFailed(w, r, "topic", "TopicRequired")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		validationFailed(w, r, "content", "ContentRequired")
		return
	}

	exam, ok := h.exams.loadExam(w, r)
	if !ok {
		return
	}
	text, err := h.content.ExpandStudyContent(r.Context(), &exam.Data, req.Topic, req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TextResponse{Text: text})
}

// Tutor answers a question about the lesson being read. A failed call is
// answered with the fallback text.
func (h *StudyHandler) Tutor(w http.ResponseWriter, r *http.Request) {
	var req models.StudyTutorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		validationFailed(w, r, "question", "QuestionRequired")
		return
	}
	if _, ok := h.exams.loadExam(w, r); !ok {
		return
	}

	text, err := h.content.AskStudyTutor(r.Context(), req.Content, req.Question)
	h.writeAssist(w, r, "study_tutor", text, err, "StudyTutorFallback")
}

func (h *StudyHandler) StepByStep(w http.ResponseWriter, r *http.Request) {
	var req models.StepByStepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		validationFailed(w, r, "topic", "TopicRequired")
		return
	}
	if _, ok := h.exams.loadExam(w, r); !ok {
		return
	}

	text, err := h.content.GenerateStepByStep(r.Context(), req.Topic, req.Content)
	h.writeAssist(w, r, "step_by_step", text, err, "StepByStepFallback")
}

func (h *StudyHandler) writeAssist(w http.ResponseWriter, r *http.Request, op, text string, err error, fallbackID string) {
	if err != nil {
		h.log.Warn("study assist failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusOK, assistResponse{Text: i18n.T(r.Context(), fallbackID), Fallback: true})
		return
	}
	writeJSON(w, http.StatusOK, assistResponse{Text: text})
}

// UploadMaterial extracts the text of a PDF, DOCX or plain-text file. The
// text is returned to be sent back as study_content of a simulation request.
func (h *StudyHandler) UploadMaterial(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", i18n.T(r.Context(), "FileTooLarge"), r))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if _, ok := h.exams.loadExam(w, r); !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", i18n.T(r.Context(), "FileTooLarge"), r))
			return
		}
		validationFailed(w, r, "file", "FileRequired")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", i18n.T(r.Context(), "FileTooLarge"), r))
		return
	}

	text, err := h.extractor.Extract(header.Filename, data)
	switch {
	case errors.Is(err, services.ErrUnsupportedFile):
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", i18n.T(r.Context(), "UnsupportedFile"), r))
		return
	case errors.Is(err, services.ErrEmptyDocument):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp("EMPTY_DOCUMENT", i18n.T(r.Context(), "ContentRequired"), r))
		return
	case err != nil:
		h.log.Warn("material extraction failed", zap.String("filename", header.Filename), zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, errorResp("UNREADABLE_FILE", i18n.T(r.Context(), "UnsupportedFile"), r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename":   header.Filename,
		"characters": len([]rune(text)),
		"content":    text,
	})
}
