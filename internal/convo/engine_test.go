package convo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bankassist/internal/bank"
	"bankassist/internal/docscan"
	"bankassist/internal/llm"
)

type fakeStore struct {
	accounts []bank.Account
	txs      []bank.Transaction

	payments   []bank.PaymentParams
	paymentErr error
}

func (f *fakeStore) Close()                           {}
func (f *fakeStore) Ping(context.Context) error       { return nil }
func (f *fakeStore) GetUser(_ context.Context, userID string) (*bank.User, error) {
	return &bank.User{ID: userID, Name: "Demo"}, nil
}

func (f *fakeStore) GetAccounts(context.Context, string) ([]bank.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) GetAccount(_ context.Context, _, accountID string) (*bank.Account, error) {
	for _, a := range f.accounts {
		if a.AccountID == accountID {
			return &a, nil
		}
	}
	return nil, bank.ErrNotFound
}

func (f *fakeStore) GetRecentTransactions(_ context.Context, _, accountID string, limit int) ([]bank.Transaction, error) {
	var out []bank.Transaction
	for _, t := range f.txs {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) AddTransaction(_ context.Context, p bank.TransactionParams) (*bank.Transaction, error) {
	return &bank.Transaction{ID: "T-added", UserID: p.UserID, AccountID: p.AccountID, Amount: p.Amount}, nil
}

func (f *fakeStore) FindPayeeByName(_ context.Context, _, name string) (*bank.Payee, error) {
	return &bank.Payee{ID: "P-001", Name: name}, nil
}

func (f *fakeStore) CreatePayee(_ context.Context, userID, name, accountNumber, address string) (*bank.Payee, error) {
	return &bank.Payee{ID: "P-new", UserID: userID, Name: name, AccountNumber: accountNumber, Address: address}, nil
}

func (f *fakeStore) ProcessPayment(_ context.Context, p bank.PaymentParams) (*bank.PaymentReceipt, error) {
	f.payments = append(f.payments, p)
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	var balance decimal.Decimal
	for _, a := range f.accounts {
		if a.AccountID == p.FromAccountID {
			balance = a.Balance
		}
	}
	return &bank.PaymentReceipt{
		NewBalance: balance.Sub(p.Amount),
		Transaction: bank.Transaction{
			ID:        "T-paid",
			UserID:    p.UserID,
			AccountID: p.FromAccountID,
			Amount:    p.Amount.Neg(),
		},
	}, nil
}

var _ bank.Store = (*fakeStore)(nil)

type fakeChat struct {
	available bool
	answer    string
	err       error
	calls     int
}

func (f *fakeChat) Available() bool { return f.available }
func (f *fakeChat) Respond(context.Context, string, *docscan.Extraction, []llm.Turn) (string, error) {
	f.calls++
	return f.answer, f.err
}

func demoAccounts() []bank.Account {
	return []bank.Account{
		{ID: "acc-savings", AccountID: "SAV-001", AccountType: "savings", Currency: "USD", Balance: decimal.RequireFromString("15230.00")},
		{ID: "acc-checking", AccountID: "CHK-001", AccountType: "checking", Currency: "USD", Balance: decimal.RequireFromString("4850.75")},
	}
}

func newTestEngine(store bank.Store, chat Chat) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, chat, logger, nil)
}

func TestBalanceIntent(t *testing.T) {
	store := &fakeStore{accounts: demoAccounts()}
	engine := newTestEngine(store, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{UserID: "u1", Message: "What's my account balance?"})
	require.True(t, reply.Success)
	require.Equal(t, ContentStructured, reply.ContentType)
	require.Equal(t, "balance", reply.Meta["intent"])
	require.Contains(t, reply.Message, "4,850.75")
	require.Contains(t, reply.Message, "15,230.00")
}

func TestBalanceIntentNoAccounts(t *testing.T) {
	engine := newTestEngine(&fakeStore{}, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{UserID: "u1", Message: "balance please"})
	require.True(t, reply.Success)
	require.Equal(t, ContentText, reply.ContentType)
	require.Contains(t, reply.Message, "couldn't find any accounts")
}

func TestTransactionsIntentPrefersChecking(t *testing.T) {
	merchant := "Grocery Mart"
	store := &fakeStore{
		accounts: demoAccounts(),
		txs: []bank.Transaction{
			{ID: "T-1", AccountID: "CHK-001", Amount: decimal.RequireFromString("-45.23"), Description: "Groceries", Merchant: &merchant},
		},
	}
	engine := newTestEngine(store, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{UserID: "u1", Message: "show my recent transactions"})
	require.True(t, reply.Success)
	require.Equal(t, "transactions", reply.Meta["intent"])
	require.Equal(t, "CHK-001", reply.Meta["accountId"])
	require.Contains(t, reply.Message, "Grocery Mart")
	require.Contains(t, reply.Message, "-$45.23")
}

func TestPaymentProposalFromMessage(t *testing.T) {
	store := &fakeStore{accounts: demoAccounts()}
	engine := newTestEngine(store, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{
		UserID:  "u1",
		Message: "Pay $125.50 to ACME Utilities",
	})
	require.True(t, reply.Success)
	require.Equal(t, "payment", reply.Meta["intent"])
	require.Equal(t, true, reply.Meta["awaiting_confirmation"])
	require.Equal(t, "125.5", reply.Meta["amount"])
	require.Equal(t, "ACME Utilities", reply.Meta["payee"])
	require.Equal(t, "CHK-001", reply.Meta["from_account_id"])
	require.Contains(t, reply.Message, "confirm")
	require.Empty(t, store.payments, "propose step must not touch the payment op")
}

func TestPaymentConfirmExecutesFrozenParams(t *testing.T) {
	store := &fakeStore{accounts: demoAccounts()}
	engine := newTestEngine(store, &fakeChat{})

	proposal := engine.HandleTurn(context.Background(), Turn{
		UserID:  "u1",
		Message: "Pay $125.50 to ACME Utilities",
	})

	// The confirming message names a different amount and payee; the frozen
	// proposal wins.
	reply := engine.HandleTurn(context.Background(), Turn{
		UserID:   "u1",
		Message:  "confirm payment of $999.00 to Evil Corp",
		LastMeta: proposal.Meta,
	})
	require.True(t, reply.Success)
	require.Equal(t, ContentStructured, reply.ContentType)
	require.Equal(t, "T-paid", reply.Meta["transactionId"])
	require.Contains(t, reply.Message, "4,725.25")

	require.Len(t, store.payments, 1)
	paid := store.payments[0]
	require.True(t, paid.Amount.Equal(decimal.RequireFromString("125.50")))
	require.Equal(t, "ACME Utilities", paid.PayeeName)
	require.Equal(t, "CHK-001", paid.FromAccountID)
}

func TestNonConfirmingMessageAbandonsProposal(t *testing.T) {
	store := &fakeStore{accounts: demoAccounts()}
	engine := newTestEngine(store, &fakeChat{})

	proposal := engine.HandleTurn(context.Background(), Turn{
		UserID:  "u1",
		Message: "Pay $125.50 to ACME Utilities",
	})

	reply := engine.HandleTurn(context.Background(), Turn{
		UserID:   "u1",
		Message:  "what's my balance?",
		LastMeta: proposal.Meta,
	})
	require.Equal(t, "balance", reply.Meta["intent"])
	require.Empty(t, store.payments, "abandoned proposal must not execute")
}

func TestPaymentConfirmSurvivesJSONRoundTrip(t *testing.T) {
	// Callers that persist meta as JSON hand numbers back as float64.
	store := &fakeStore{accounts: demoAccounts()}
	engine := newTestEngine(store, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{
		UserID:  "u1",
		Message: "confirm",
		LastMeta: map[string]any{
			"intent":                "payment",
			"awaiting_confirmation": true,
			"amount":                125.50,
			"payee":                 "ACME Utilities",
			"from_account_id":       "CHK-001",
		},
	})
	require.True(t, reply.Success)
	require.Len(t, store.payments, 1)
	require.True(t, store.payments[0].Amount.Equal(decimal.RequireFromString("125.50")))
}

func TestPaymentClarificationWhenParamsMissing(t *testing.T) {
	store := &fakeStore{accounts: demoAccounts()}
	engine := newTestEngine(store, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{UserID: "u1", Message: "pay the bill"})
	require.True(t, reply.Success)
	require.Equal(t, "payment", reply.Meta["intent"])
	needs, ok := reply.Meta["needs"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, needs["payee"])
	require.Equal(t, true, needs["amount"])
	require.Empty(t, store.payments)
}

func TestPaymentInsufficientFundsAtProposal(t *testing.T) {
	store := &fakeStore{accounts: []bank.Account{
		{ID: "acc-1", AccountID: "CHK-001", AccountType: "checking", Currency: "USD", Balance: decimal.RequireFromString("50.00")},
	}}
	engine := newTestEngine(store, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{
		UserID:  "u1",
		Message: "Pay $125.50 to ACME Utilities",
	})
	require.True(t, reply.Success)
	require.Equal(t, false, reply.Meta["can_pay"])
	require.Contains(t, reply.Message, "insufficient")
	require.NotContains(t, reply.Meta, "awaiting_confirmation")
	require.Empty(t, store.payments)
}

func TestPaymentParamsFromDocumentContext(t *testing.T) {
	store := &fakeStore{accounts: demoAccounts()}
	engine := newTestEngine(store, &fakeChat{})

	doc := &docscan.Extraction{
		BankingInfo: docscan.BankingInfo{
			Names:   []string{"CityNet Internet"},
			Amounts: []string{"not-a-number", "$1,234.56"},
		},
	}
	reply := engine.HandleTurn(context.Background(), Turn{
		UserID:   "u1",
		Message:  "please pay this bill",
		Document: doc,
	})
	require.Equal(t, true, reply.Meta["awaiting_confirmation"])
	require.Equal(t, "1234.56", reply.Meta["amount"])
	require.Equal(t, "CityNet Internet", reply.Meta["payee"])
}

func TestPaymentFailureReportedConversationally(t *testing.T) {
	store := &fakeStore{accounts: demoAccounts(), paymentErr: bank.ErrInsufficientFunds}
	engine := newTestEngine(store, &fakeChat{})

	reply := engine.HandleTurn(context.Background(), Turn{
		UserID:  "u1",
		Message: "confirm",
		LastMeta: map[string]any{
			"intent":                "payment",
			"awaiting_confirmation": true,
			"amount":                "125.50",
			"payee":                 "ACME Utilities",
			"from_account_id":       "CHK-001",
		},
	})
	require.True(t, reply.Success, "business failures stay conversational")
	require.Equal(t, ContentText, reply.ContentType)
	require.True(t, strings.HasPrefix(reply.Message, "Payment failed:"))
}

func TestChatFallback(t *testing.T) {
	chat := &fakeChat{available: true, answer: "Hello there."}
	engine := newTestEngine(&fakeStore{accounts: demoAccounts()}, chat)

	reply := engine.HandleTurn(context.Background(), Turn{UserID: "u1", Message: "tell me a joke"})
	require.True(t, reply.Success)
	require.Equal(t, "Hello there.", reply.Message)
	require.Equal(t, 1, chat.calls)
}

func TestChatFallbackUnavailable(t *testing.T) {
	engine := newTestEngine(&fakeStore{}, &fakeChat{available: false})

	reply := engine.HandleTurn(context.Background(), Turn{UserID: "u1", Message: "tell me a joke"})
	require.False(t, reply.Success)
	require.Equal(t, ContentText, reply.ContentType)
	require.NotEmpty(t, reply.Message)
}

func TestChatFallbackError(t *testing.T) {
	chat := &fakeChat{available: true, err: errors.New("upstream timeout")}
	engine := newTestEngine(&fakeStore{}, chat)

	reply := engine.HandleTurn(context.Background(), Turn{UserID: "u1", Message: "tell me a joke"})
	require.False(t, reply.Success)
}
