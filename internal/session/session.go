// Package session holds per-conversation state: message history, uploaded
// document analyses and the pending-action metadata the orchestrator uses to
// carry a payment proposal across turns.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"bankassist/internal/docscan"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Message is a single chat turn stored in the history.
type Message struct {
	Role        string         `json:"role"` // "user" or "assistant"
	Content     string         `json:"content"`
	ContentType string         `json:"content_type,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Document is an uploaded document plus its extraction result.
type Document struct {
	ID         string             `json:"id"`
	Filename   string             `json:"filename"`
	UploadedAt time.Time          `json:"uploaded_at"`
	Extraction docscan.Extraction `json:"extraction"`
}

// Session is the whole conversation state for one user connection.
type Session struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Messages           []Message  `json:"messages"`
	Documents          []Document `json:"documents"`
	SelectedDocumentID string     `json:"selected_document_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	LastActivity       time.Time  `json:"last_activity"`
}

// New creates an empty session for the user.
func New(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Append records a turn and bumps the activity timestamp.
func (s *Session) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.Messages = append(s.Messages, msg)
	s.LastActivity = msg.Timestamp
}

// AddDocument stores an analyzed upload and selects it as the active
// document context.
func (s *Session) AddDocument(filename string, ex docscan.Extraction) *Document {
	doc := Document{
		ID:         uuid.NewString(),
		Filename:   filename,
		UploadedAt: time.Now().UTC(),
		Extraction: ex,
	}
	s.Documents = append(s.Documents, doc)
	s.SelectedDocumentID = doc.ID
	s.LastActivity = doc.UploadedAt
	return &s.Documents[len(s.Documents)-1]
}

// SelectedDocument returns the active document extraction, if any.
func (s *Session) SelectedDocument() *docscan.Extraction {
	for i := range s.Documents {
		if s.Documents[i].ID == s.SelectedDocumentID {
			return &s.Documents[i].Extraction
		}
	}
	return nil
}

// LastAssistantMeta returns the metadata of the most recent assistant turn.
// The orchestrator reads it to detect a pending payment confirmation.
func (s *Session) LastAssistantMeta() map[string]any {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" {
			return s.Messages[i].Meta
		}
	}
	return nil
}

// Store persists sessions keyed by id. Implementations expire sessions after
// an idle timeout.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}
