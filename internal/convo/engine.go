// Package convo is the conversational orchestrator: it classifies each
// inbound message into an intent, executes it against the banking store and
// returns a uniform reply envelope plus continuation metadata. Payment is a
// two-turn flow: a propose step freezes the parameters into the metadata and
// a confirm step executes them verbatim.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankassist/internal/bank"
	"bankassist/internal/docscan"
	"bankassist/internal/llm"
	"bankassist/internal/metrics"
)

// Content type tags carried in the reply envelope.
const (
	ContentText       = "text"
	ContentStructured = "structured"
)

const recentTxLimit = 10

var amountPattern = regexp.MustCompile(`\$?\d{1,3}(?:,\d{3})*(?:\.\d{2})?`)

var (
	balanceKeywords     = []string{"balance", "account balance", "how much do i have"}
	transactionKeywords = []string{"transactions", "recent transactions", "history", "statement"}
	paymentKeywords     = []string{"pay", "payment", "pay bill", "bill payment", "settle", "confirm payment"}
)

// Reply is the uniform envelope every turn returns. Callers must echo Meta
// back on the next turn to keep multi-turn flows alive.
type Reply struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Meta        map[string]any `json:"meta,omitempty"`
	ContentType string         `json:"content_type"`
}

// Chat is the free-form collaborator for messages no keyword rule matches.
type Chat interface {
	Available() bool
	Respond(ctx context.Context, userMessage string, doc *docscan.Extraction, history []llm.Turn) (string, error)
}

// Turn is one inbound message with its conversation context.
type Turn struct {
	UserID   string
	Message  string
	Document *docscan.Extraction
	History  []llm.Turn
	// LastMeta is the metadata of the previous assistant reply, echoed back
	// by the caller. Carries a pending payment proposal, if any.
	LastMeta map[string]any
}

// Engine dispatches turns. Stateless apart from the store behind it; all
// conversation state arrives with the turn.
type Engine struct {
	store   bank.Store
	chat    Chat
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine builds an orchestrator over the given store and chat collaborator.
func NewEngine(store bank.Store, chat Chat, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		chat:    chat,
		logger:  logger.With("component", "convo"),
		metrics: m,
	}
}

// HandleTurn processes one message. It never returns an error: every failure
// is folded into the reply envelope.
func (e *Engine) HandleTurn(ctx context.Context, turn Turn) Reply {
	low := strings.ToLower(turn.Message)

	// A pending proposal plus a confirming message short-circuits
	// classification entirely.
	if p, ok := pendingProposal(turn.LastMeta); ok && strings.Contains(low, "confirm") {
		return e.executeProposal(ctx, turn.UserID, p)
	}

	switch {
	case containsAny(low, balanceKeywords):
		return e.observe("balance", e.handleBalance(ctx, turn.UserID))
	case containsAny(low, transactionKeywords):
		return e.observe("transactions", e.handleTransactions(ctx, turn.UserID))
	case containsAny(low, paymentKeywords):
		return e.observe("payment", e.handlePayment(ctx, turn))
	default:
		return e.observe("chat", e.handleChat(ctx, turn))
	}
}

func (e *Engine) observe(intent string, r Reply) Reply {
	if e.metrics != nil {
		e.metrics.ChatTurns.WithLabelValues(intent).Inc()
	}
	return r
}

func containsAny(low string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(low, k) {
			return true
		}
	}
	return false
}

// -- intents --

func (e *Engine) handleBalance(ctx context.Context, userID string) Reply {
	accounts, err := e.store.GetAccounts(ctx, userID)
	if err != nil {
		return e.storeFailure("balance", err)
	}
	if len(accounts) == 0 {
		return textReply("I couldn't find any accounts for you.", map[string]any{})
	}
	return Reply{
		Success:     true,
		Message:     renderAccountsTable(accounts),
		Timestamp:   time.Now().UTC(),
		Meta:        map[string]any{"intent": "balance"},
		ContentType: ContentStructured,
	}
}

func (e *Engine) handleTransactions(ctx context.Context, userID string) Reply {
	accounts, err := e.store.GetAccounts(ctx, userID)
	if err != nil {
		return e.storeFailure("transactions", err)
	}
	if len(accounts) == 0 {
		return textReply("No accounts found.", map[string]any{})
	}
	acct := preferChecking(accounts)

	txs, err := e.store.GetRecentTransactions(ctx, userID, acct.AccountID, recentTxLimit)
	if err != nil {
		return e.storeFailure("transactions", err)
	}
	if len(txs) == 0 {
		return textReply(
			fmt.Sprintf("No recent transactions for account %s.", acct.AccountID),
			map[string]any{"accountId": acct.AccountID},
		)
	}
	return Reply{
		Success:     true,
		Message:     renderTransactionsTable(acct.AccountID, txs),
		Timestamp:   time.Now().UTC(),
		Meta:        map[string]any{"intent": "transactions", "accountId": acct.AccountID},
		ContentType: ContentStructured,
	}
}

// handlePayment is the propose step: resolve payee and amount, check the
// balance and hand back a confirmation prompt whose metadata freezes the
// payment parameters for the next turn.
func (e *Engine) handlePayment(ctx context.Context, turn Turn) Reply {
	payee, amount, haveAmount := resolvePaymentParams(turn.Message, turn.Document)

	if payee == "" || !haveAmount {
		return textReply(
			"To pay a bill, I need the payee name and the amount. You can upload the bill or tell me, e.g., 'Pay $125.50 to ACME Utilities'.",
			map[string]any{
				"intent": "payment",
				"needs":  map[string]any{"payee": payee == "", "amount": !haveAmount},
			},
		)
	}

	accounts, err := e.store.GetAccounts(ctx, turn.UserID)
	if err != nil {
		return e.storeFailure("payment", err)
	}
	if len(accounts) == 0 {
		return textReply("No accounts found to pay from.", map[string]any{"intent": "payment"})
	}
	acct := preferChecking(accounts)

	if acct.Balance.LessThan(amount) {
		if e.metrics != nil {
			e.metrics.Payments.WithLabelValues("insufficient_funds").Inc()
		}
		return textReply(
			fmt.Sprintf("Your balance ($%s) is insufficient to pay $%s.", formatMoney(acct.Balance), formatMoney(amount)),
			map[string]any{"intent": "payment", "can_pay": false},
		)
	}

	msg := fmt.Sprintf(
		"You're about to pay $%s to %s from account %s (current balance $%s). Confirm? Reply 'confirm payment' to proceed.",
		formatMoney(amount), escape(payee), escape(acct.AccountID), formatMoney(acct.Balance),
	)
	return textReply(msg, map[string]any{
		"intent":                "payment",
		"awaiting_confirmation": true,
		// Stored as a string so the value survives JSON round-trips exactly.
		"amount":          amount.String(),
		"payee":           payee,
		"from_account_id": acct.AccountID,
	})
}

func (e *Engine) handleChat(ctx context.Context, turn Turn) Reply {
	if e.chat == nil || !e.chat.Available() {
		return Reply{
			Success:     false,
			Message:     "The assistant is not available right now. I can still help with balances, transactions and bill payments.",
			Timestamp:   time.Now().UTC(),
			Meta:        map[string]any{"intent": "chat"},
			ContentType: ContentText,
		}
	}
	answer, err := e.chat.Respond(ctx, turn.Message, turn.Document, turn.History)
	if err != nil {
		e.logger.Warn("chat collaborator failed", "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo").Inc()
		}
		return Reply{
			Success:     false,
			Message:     err.Error(),
			Timestamp:   time.Now().UTC(),
			Meta:        map[string]any{"intent": "chat"},
			ContentType: ContentText,
		}
	}
	return textReply(answer, map[string]any{"intent": "chat"})
}

// -- confirmation --

type proposal struct {
	Amount        decimal.Decimal
	Payee         string
	FromAccountID string
}

// pendingProposal reads a frozen payment proposal out of the previous turn's
// metadata. Amounts may arrive as strings or JSON numbers depending on how
// the caller stored the envelope.
func pendingProposal(meta map[string]any) (proposal, bool) {
	if meta == nil {
		return proposal{}, false
	}
	if intent, _ := meta["intent"].(string); intent != "payment" {
		return proposal{}, false
	}
	if awaiting, _ := meta["awaiting_confirmation"].(bool); !awaiting {
		return proposal{}, false
	}

	var p proposal
	switch v := meta["amount"].(type) {
	case string:
		amt, err := decimal.NewFromString(v)
		if err != nil {
			return proposal{}, false
		}
		p.Amount = amt
	case float64:
		p.Amount = decimal.NewFromFloat(v)
	default:
		return proposal{}, false
	}
	p.Payee, _ = meta["payee"].(string)
	p.FromAccountID, _ = meta["from_account_id"].(string)
	if p.Payee == "" || p.FromAccountID == "" {
		return proposal{}, false
	}
	return p, true
}

// executeProposal is the confirm step: the frozen parameters are executed
// verbatim, never re-derived from the confirming message.
func (e *Engine) executeProposal(ctx context.Context, userID string, p proposal) Reply {
	if e.metrics != nil {
		e.metrics.ChatTurns.WithLabelValues("confirm").Inc()
	}
	receipt, err := e.store.ProcessPayment(ctx, bank.PaymentParams{
		UserID:        userID,
		FromAccountID: p.FromAccountID,
		PayeeName:     p.Payee,
		Amount:        p.Amount,
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.Payments.WithLabelValues("failed").Inc()
		}
		// Expected business outcomes stay conversational.
		return textReply(
			fmt.Sprintf("Payment failed: %v", err),
			map[string]any{"intent": "payment"},
		)
	}

	if e.metrics != nil {
		e.metrics.Payments.WithLabelValues("completed").Inc()
	}
	return Reply{
		Success:     true,
		Message:     renderReceipt(p.Payee, p.Amount, p.FromAccountID, receipt),
		Timestamp:   time.Now().UTC(),
		Meta:        map[string]any{"intent": "payment", "transactionId": receipt.Transaction.ID},
		ContentType: ContentStructured,
	}
}

// -- parameter resolution --

// resolvePaymentParams extracts the payee and amount from, in order, the
// document context, then the message text.
func resolvePaymentParams(message string, doc *docscan.Extraction) (payee string, amount decimal.Decimal, ok bool) {
	if doc != nil {
		if len(doc.BankingInfo.Names) > 0 {
			payee = doc.BankingInfo.Names[0]
		}
		for _, raw := range doc.BankingInfo.Amounts {
			if amt, err := parseAmount(raw); err == nil && amt.Sign() > 0 {
				amount, ok = amt, true
				break
			}
		}
	}

	if !ok {
		if m := amountPattern.FindString(message); m != "" {
			if amt, err := parseAmount(m); err == nil {
				amount, ok = amt, true
			}
		}
	}

	if payee == "" {
		tokens := strings.Fields(message)
		for i, t := range tokens {
			if strings.ToLower(t) == "to" && i+1 < len(tokens) {
				payee = strings.Join(tokens[i+1:], " ")
				break
			}
		}
	}
	return payee, amount, ok
}

// parseAmount strips currency decorations and parses a decimal value.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.NewReplacer("$", "", "USD", "", ",", "").Replace(raw)
	return decimal.NewFromString(strings.TrimSpace(s))
}

// -- helpers --

func preferChecking(accounts []bank.Account) bank.Account {
	for _, a := range accounts {
		if strings.EqualFold(a.AccountType, "checking") {
			return a
		}
	}
	return accounts[0]
}

func textReply(message string, meta map[string]any) Reply {
	return Reply{
		Success:     true,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		Meta:        meta,
		ContentType: ContentText,
	}
}

func (e *Engine) storeFailure(intent string, err error) Reply {
	e.logger.Error("store call failed", "intent", intent, "error", err)
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues("convo").Inc()
	}
	return Reply{
		Success:     false,
		Message:     err.Error(),
		Timestamp:   time.Now().UTC(),
		Meta:        map[string]any{"intent": intent},
		ContentType: ContentText,
	}
}
