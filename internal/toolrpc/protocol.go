// Package toolrpc implements the remote tool backend: a child process that
// exposes the banking data operations as named, typed calls over stdio, and a
// supervised client that forwards facade calls to it. The wire format is
// line-delimited JSON-RPC private to this repository.
package toolrpc

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"bankassist/internal/bank"
)

const (
	protocolVersion = "1"
	serverName      = "bankassist-toolserver"
)

// Method names. The remote surface deliberately has no raw balance-update
// call; ProcessPayment is the only mutation touching balances.
const (
	methodInitialize       = "initialize"
	methodPing             = "ping"
	methodGetUser          = "get_user"
	methodGetAccounts      = "get_accounts"
	methodGetAccount       = "get_account"
	methodRecentTx         = "get_recent_transactions"
	methodAddTransaction   = "add_transaction"
	methodFindPayeeByName  = "find_payee_by_name"
	methodCreatePayee      = "create_payee"
	methodProcessPayment   = "process_payment"
)

// Error codes carried in response envelopes, mapped back onto the bank error
// taxonomy by the client.
const (
	codeMalformedInput    = 400
	codeInsufficientFunds = 402
	codeNotFound          = 404
	codeInternal          = 500
	codeUnavailable       = 503
)

type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// -- handshake --

type initializeParams struct {
	Client  string `json:"client"`
	Version string `json:"version"`
}

type initializeResult struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// -- call params --

type userScopeParams struct {
	UserID string `json:"user_id"`
}

type accountParams struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
}

type recentTxParams struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit"`
}

type addTxParams struct {
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`
	Category    string          `json:"category,omitempty"`
}

type findPayeeParams struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type createPayeeParams struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	Address       string `json:"address,omitempty"`
}

type paymentParams struct {
	UserID        string          `json:"user_id"`
	FromAccountID string          `json:"from_account_id"`
	PayeeName     string          `json:"payee_name"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
}

// -- wire entities --

type wireUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type wireAccount struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`
	AccountType string          `json:"account_type"`
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
}

type wireTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Merchant    *string         `json:"merchant,omitempty"`
	Category    string          `json:"category"`
}

type wirePayee struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	Address       string `json:"address"`
}

type wireReceipt struct {
	NewBalance  decimal.Decimal `json:"new_balance"`
	Transaction wireTransaction `json:"transaction"`
}

func toWireUser(u *bank.User) wireUser {
	return wireUser{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func fromWireUser(w wireUser) *bank.User {
	return &bank.User{ID: w.ID, Name: w.Name, Email: w.Email, CreatedAt: w.CreatedAt}
}

func toWireAccount(a bank.Account) wireAccount {
	return wireAccount{ID: a.ID, UserID: a.UserID, AccountID: a.AccountID, AccountType: a.AccountType, Currency: a.Currency, Balance: a.Balance}
}

func fromWireAccount(w wireAccount) bank.Account {
	return bank.Account{ID: w.ID, UserID: w.UserID, AccountID: w.AccountID, AccountType: w.AccountType, Currency: w.Currency, Balance: w.Balance}
}

func toWireTransaction(t bank.Transaction) wireTransaction {
	return wireTransaction{ID: t.ID, UserID: t.UserID, AccountID: t.AccountID, Date: t.Date, Amount: t.Amount, Description: t.Description, Merchant: t.Merchant, Category: t.Category}
}

func fromWireTransaction(w wireTransaction) bank.Transaction {
	return bank.Transaction{ID: w.ID, UserID: w.UserID, AccountID: w.AccountID, Date: w.Date, Amount: w.Amount, Description: w.Description, Merchant: w.Merchant, Category: w.Category}
}

func toWirePayee(p *bank.Payee) wirePayee {
	return wirePayee{ID: p.ID, UserID: p.UserID, Name: p.Name, AccountNumber: p.AccountNumber, Address: p.Address}
}

func fromWirePayee(w wirePayee) *bank.Payee {
	return &bank.Payee{ID: w.ID, UserID: w.UserID, Name: w.Name, AccountNumber: w.AccountNumber, Address: w.Address}
}
