// Package httpserver exposes the chat, document and operational endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bankassist/internal/convo"
	"bankassist/internal/docscan"
	"bankassist/internal/llm"
	"bankassist/internal/metrics"
	"bankassist/internal/session"
)

const maxUploadBytes = 5 << 20

var allowedExtensions = map[string]bool{
	".txt": true, ".csv": true, ".md": true, ".json": true,
}

// Summarizer produces a short description of an analyzed document.
type Summarizer interface {
	Available() bool
	Summarize(ctx context.Context, doc *docscan.Extraction) (string, error)
}

// Dependencies exposes core collaborators to the handlers.
type Dependencies struct {
	Engine     *convo.Engine
	Sessions   session.Store
	Analyzer   *docscan.Analyzer
	Summarizer Summarizer
	DemoUserID string
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
}

// New creates an HTTP server listening on addr.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies) *Server {
	server := &Server{
		logger:  logger.With("component", "http"),
		metrics: metricRegistry,
		deps:    deps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/chat", server.handleChat)
	mux.HandleFunc("POST /api/analyze", server.handleAnalyze)
	mux.HandleFunc("GET /api/documents", server.handleListDocuments)
	mux.HandleFunc("POST /api/documents/select", server.handleSelectDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", server.handleDeleteDocument)
	mux.HandleFunc("POST /api/clear_chat", server.handleClearChat)
	mux.HandleFunc("GET /api/history", server.handleHistory)
	mux.HandleFunc("GET /api/chat_export", server.handleExport)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// resolveSession loads the session named by id, or creates a fresh one for
// the demo user when id is empty or expired.
func (s *Server) resolveSession(ctx context.Context, id string) (*session.Session, error) {
	if id != "" {
		sess, err := s.deps.Sessions.Get(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}
	return session.New(s.deps.DemoUserID), nil
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	sess, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}

	lastMeta := sess.LastAssistantMeta()
	history := chatHistory(sess)
	sess.Append(session.Message{Role: "user", Content: req.Message})

	reply := s.deps.Engine.HandleTurn(ctx, convo.Turn{
		UserID:   sess.UserID,
		Message:  req.Message,
		Document: sess.SelectedDocument(),
		History:  history,
		LastMeta: lastMeta,
	})

	sess.Append(session.Message{
		Role:        "assistant",
		Content:     reply.Message,
		ContentType: reply.ContentType,
		Timestamp:   reply.Timestamp,
		Meta:        reply.Meta,
	})
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		s.serverError(w, "save session", err)
		return
	}

	writeJSON(w, map[string]any{
		"success":      reply.Success,
		"response":     reply.Message,
		"timestamp":    reply.Timestamp,
		"meta":         reply.Meta,
		"content_type": reply.ContentType,
		"session_id":   sess.ID,
	})
}

// chatHistory converts the session's plain-text turns for the chat
// collaborator; structured fragments are skipped.
func chatHistory(sess *session.Session) []llm.Turn {
	var turns []llm.Turn
	for _, m := range sess.Messages {
		if m.ContentType == convo.ContentStructured {
			continue
		}
		turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "empty filename")
		return
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(header.Filename))] {
		writeError(w, http.StatusBadRequest, "invalid file type")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		s.serverError(w, "read upload", err)
		return
	}

	ctx := r.Context()
	sess, err := s.resolveSession(ctx, r.FormValue("session_id"))
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}

	extraction, err := s.deps.Analyzer.Analyze(header.Filename, content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc := sess.AddDocument(header.Filename, *extraction)

	summary := ""
	if s.deps.Summarizer != nil && s.deps.Summarizer.Available() {
		summary, err = s.deps.Summarizer.Summarize(ctx, extraction)
		if err != nil {
			s.logger.Warn("document summary failed", "error", err)
			summary = ""
		}
	}

	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		s.serverError(w, "save session", err)
		return
	}

	writeJSON(w, map[string]any{
		"success":    true,
		"id":         doc.ID,
		"filename":   doc.Filename,
		"summary":    summary,
		"extraction": doc.Extraction,
		"session_id": sess.ID,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	sess, err := s.resolveSession(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}
	docs := make([]map[string]any, 0, len(sess.Documents))
	for _, d := range sess.Documents {
		docs = append(docs, map[string]any{
			"id":          d.ID,
			"filename":    d.Filename,
			"uploaded_at": d.UploadedAt,
		})
	}
	writeJSON(w, map[string]any{
		"success":              true,
		"documents":            docs,
		"selected_document_id": sess.SelectedDocumentID,
		"session_id":           sess.ID,
	})
}

type selectDocumentRequest struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
}

func (s *Server) handleSelectDocument(w http.ResponseWriter, r *http.Request) {
	var req selectDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	sess, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}

	found := false
	for _, d := range sess.Documents {
		if d.ID == req.DocumentID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	sess.SelectedDocumentID = req.DocumentID
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		s.serverError(w, "save session", err)
		return
	}
	writeJSON(w, map[string]any{
		"success":              true,
		"selected_document_id": req.DocumentID,
		"session_id":           sess.ID,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	ctx := r.Context()
	sess, err := s.resolveSession(ctx, r.URL.Query().Get("session_id"))
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}

	before := len(sess.Documents)
	kept := sess.Documents[:0]
	for _, d := range sess.Documents {
		if d.ID != docID {
			kept = append(kept, d)
		}
	}
	sess.Documents = kept
	if sess.SelectedDocumentID == docID {
		// Deleting the active document promotes the first remaining one.
		sess.SelectedDocumentID = ""
		if len(sess.Documents) > 0 {
			sess.SelectedDocumentID = sess.Documents[0].ID
		}
	}
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		s.serverError(w, "save session", err)
		return
	}
	writeJSON(w, map[string]any{
		"success":              true,
		"deleted":              before - len(sess.Documents),
		"selected_document_id": sess.SelectedDocumentID,
		"session_id":           sess.ID,
	})
}

type clearChatRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	var req clearChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	sess, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}
	sess.Messages = nil
	sess.LastActivity = time.Now().UTC()
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		s.serverError(w, "save session", err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "session_id": sess.ID})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.resolveSession(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}
	writeJSON(w, map[string]any{
		"session_id": sess.ID,
		"messages":   sess.Messages,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.resolveSession(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.serverError(w, "resolve session", err)
		return
	}
	docs := make([]map[string]any, 0, len(sess.Documents))
	for _, d := range sess.Documents {
		docs = append(docs, map[string]any{
			"id":          d.ID,
			"filename":    d.Filename,
			"uploaded_at": d.UploadedAt,
		})
	}
	writeJSON(w, map[string]any{
		"session_id":           sess.ID,
		"selected_document_id": sess.SelectedDocumentID,
		"documents":            docs,
		"created_at":           sess.CreatedAt,
		"messages":             sess.Messages,
	})
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues("http").Inc()
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
