package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"bankassist/internal/docscan"
)

func TestDisabledClientReturnsNotConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := New(Config{Model: "claude-sonnet-4-20250514"}, logger, nil)

	if client.Available() {
		t.Fatal("client without API key must report unavailable")
	}
	_, err := client.Respond(context.Background(), "hello", nil, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSystemPromptIncludesDocumentContext(t *testing.T) {
	base := systemPrompt(nil)
	if !strings.Contains(base, "banking assistant") {
		t.Errorf("base prompt = %q", base)
	}
	if strings.Contains(base, "Document context") {
		t.Error("base prompt must not mention a document")
	}

	doc := &docscan.Extraction{
		BankingInfo: docscan.BankingInfo{
			AccountNumbers: []string{"987654321"},
			Amounts:        []string{"$125.50"},
			Names:          []string{"ACME Utilities"},
		},
		KeyValues: []docscan.KeyValue{
			{Key: "Account Name", Value: "ACME Utilities"},
			{Key: "Total Amount Due", Value: "$125.50"},
		},
	}
	withDoc := systemPrompt(doc)
	for _, want := range []string{"Document context available", "987654321", "$125.50", "ACME Utilities", "Account Name: ACME Utilities"} {
		if !strings.Contains(withDoc, want) {
			t.Errorf("prompt missing %q:\n%s", want, withDoc)
		}
	}
}
