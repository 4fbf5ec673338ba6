// Package docscan extracts candidate banking fields from uploaded document
// text. It is a best-effort collaborator: the orchestrator only ever reads
// the first extracted name and the first parseable positive amount.
package docscan

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"bankassist/internal/metrics"
)

const (
	maxAccountNumbers = 10
	maxAmounts        = 10
	maxDates          = 10
	maxNames          = 5
	maxAddresses      = 5
	maxKeyValues      = 50
)

var (
	accountNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{9}\b`),
		regexp.MustCompile(`\b\d{8,20}\b`),
		regexp.MustCompile(`\b[0-9]{4}[-\s][0-9]{4}[-\s][0-9]{4,8}\b`),
	}
	amountPattern = regexp.MustCompile(`(?:(?:USD|US\$|\$)\s?)?-?\b\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b`)
	datePatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`),
		regexp.MustCompile(`\b\d{2}-\d{2}-\d{4}\b`),
		regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)[a-z]*\s+\d{1,2},\s+\d{4}\b`),
	}
	keyValuePattern = regexp.MustCompile(`^\s*([^:]{1,60}):\s*(.+)$`)

	nameKeys = []string{"account name", "name", "account holder", "payee"}
)

// BankingInfo is the bag of best-effort extracted fields.
type BankingInfo struct {
	AccountNumbers []string `json:"account_numbers"`
	Amounts        []string `json:"amounts"`
	Dates          []string `json:"dates"`
	Names          []string `json:"names"`
	Addresses      []string `json:"addresses"`
}

// KeyValue is a single "Key: Value" pair scraped from the document.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Extraction is the analysis result for one document.
type Extraction struct {
	BankingInfo BankingInfo `json:"banking_info"`
	KeyValues   []KeyValue  `json:"key_value_pairs"`
}

// Analyzer scans document text with regex heuristics.
type Analyzer struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an analyzer.
func New(logger *slog.Logger, m *metrics.Metrics) *Analyzer {
	return &Analyzer{
		logger:  logger.With("component", "docscan"),
		metrics: m,
	}
}

// Analyze extracts banking fields from the document body. Content must be
// valid UTF-8 text.
func (a *Analyzer) Analyze(filename string, content []byte) (*Extraction, error) {
	if !utf8.Valid(content) {
		if a.metrics != nil {
			a.metrics.DocumentScans.WithLabelValues("invalid").Inc()
		}
		return nil, fmt.Errorf("document %s is not valid text", filename)
	}
	text := string(content)

	kvs := extractKeyValues(text)
	ex := &Extraction{
		BankingInfo: BankingInfo{
			AccountNumbers: extractAccountNumbers(text),
			Amounts:        extractAmounts(text),
			Dates:          extractDates(text),
			Names:          extractNames(kvs),
			Addresses:      extractAddresses(kvs),
		},
		KeyValues: kvs,
	}

	if a.metrics != nil {
		a.metrics.DocumentScans.WithLabelValues("ok").Inc()
	}
	a.logger.Debug("document analyzed",
		"filename", filename,
		"names", len(ex.BankingInfo.Names),
		"amounts", len(ex.BankingInfo.Amounts),
	)
	return ex, nil
}

func extractAccountNumbers(text string) []string {
	var found []string
	seen := map[string]bool{}
	for _, pat := range accountNumberPatterns {
		for _, m := range pat.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				found = append(found, m)
			}
		}
	}
	return capList(found, maxAccountNumbers)
}

func extractAmounts(text string) []string {
	var found []string
	seen := map[string]bool{}
	for _, m := range amountPattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		// Bare small integers are noise; keep values that look like money.
		upper := strings.ToUpper(m)
		if !strings.ContainsAny(m, ".,$") && !strings.Contains(upper, "USD") {
			continue
		}
		if !seen[m] {
			seen[m] = true
			found = append(found, m)
		}
	}
	return capList(found, maxAmounts)
}

func extractDates(text string) []string {
	var found []string
	seen := map[string]bool{}
	for _, pat := range datePatterns {
		for _, m := range pat.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				found = append(found, m)
			}
		}
	}
	return capList(found, maxDates)
}

func extractKeyValues(text string) []KeyValue {
	var kvs []KeyValue
	for _, line := range strings.Split(text, "\n") {
		m := keyValuePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		kvs = append(kvs, KeyValue{
			Key:   strings.TrimSpace(m[1]),
			Value: strings.TrimSpace(m[2]),
		})
		if len(kvs) >= maxKeyValues {
			break
		}
	}
	return kvs
}

func extractNames(kvs []KeyValue) []string {
	var names []string
	for _, kv := range kvs {
		key := strings.ToLower(kv.Key)
		for _, want := range nameKeys {
			if strings.Contains(key, want) && kv.Value != "" && !contains(names, kv.Value) {
				names = append(names, kv.Value)
				break
			}
		}
	}
	return capList(names, maxNames)
}

func extractAddresses(kvs []KeyValue) []string {
	var addrs []string
	for _, kv := range kvs {
		if strings.Contains(strings.ToLower(kv.Key), "address") && kv.Value != "" && !contains(addrs, kv.Value) {
			addrs = append(addrs, kv.Value)
		}
	}
	return capList(addrs, maxAddresses)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func capList(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
