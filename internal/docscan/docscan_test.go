package docscan

import (
	"io"
	"log/slog"
	"testing"
)

const sampleBill = `ACME UTILITIES
Statement Date: 2025-08-01
Due Date: 08/15/2025

Account Name: ACME Utilities
Account Number: 987654321
Service Address: 123 Energy Ave, Metropolis

Previous Balance: $98.10
Payments Received: -$98.10
Current Charges: $125.50
Total Amount Due: USD 125.50
`

func newTestAnalyzer() *Analyzer {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestAnalyzeBill(t *testing.T) {
	ex, err := newTestAnalyzer().Analyze("bill.txt", []byte(sampleBill))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(ex.BankingInfo.Names) == 0 || ex.BankingInfo.Names[0] != "ACME Utilities" {
		t.Errorf("names = %v, want ACME Utilities first", ex.BankingInfo.Names)
	}
	if !containsStr(ex.BankingInfo.AccountNumbers, "987654321") {
		t.Errorf("account numbers = %v, missing 987654321", ex.BankingInfo.AccountNumbers)
	}
	if !containsStr(ex.BankingInfo.Amounts, "$125.50") {
		t.Errorf("amounts = %v, missing $125.50", ex.BankingInfo.Amounts)
	}
	if !containsStr(ex.BankingInfo.Dates, "2025-08-01") || !containsStr(ex.BankingInfo.Dates, "08/15/2025") {
		t.Errorf("dates = %v", ex.BankingInfo.Dates)
	}
	if len(ex.BankingInfo.Addresses) == 0 {
		t.Error("expected a service address")
	}
	if len(ex.KeyValues) == 0 {
		t.Error("expected key-value pairs")
	}
}

func TestAnalyzeDropsBareIntegers(t *testing.T) {
	ex, err := newTestAnalyzer().Analyze("note.txt", []byte("Call me at extension 42 about invoice 7"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(ex.BankingInfo.Amounts) != 0 {
		t.Errorf("amounts = %v, want none for bare integers", ex.BankingInfo.Amounts)
	}
}

func TestAnalyzeRejectsBinary(t *testing.T) {
	_, err := newTestAnalyzer().Analyze("blob.bin", []byte{0xff, 0xfe, 0x00, 0x80})
	if err == nil {
		t.Fatal("expected error for non-text content")
	}
}

func TestAnalyzeMonthNameDates(t *testing.T) {
	ex, err := newTestAnalyzer().Analyze("letter.txt", []byte("Your payment is due August 15, 2025."))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !containsStr(ex.BankingInfo.Dates, "August 15, 2025") {
		t.Errorf("dates = %v, want month-name date", ex.BankingInfo.Dates)
	}
}

func containsStr(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
