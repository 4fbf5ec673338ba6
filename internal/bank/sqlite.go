package bank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"bankassist/internal/metrics"
)

// SQLiteStore is the embedded backend over a local SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSQLite opens a new connection to the SQLite database. Busy timeout and
// WAL mode keep concurrent writers on retryable contention instead of hard
// failures.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger, m *metrics.Metrics) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=5000&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		logger:  logger.With("component", "store_sqlite"),
		metrics: m,
	}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping ensures the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies the sqlite migration files in lexicographical order.
func (s *SQLiteStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	entries, err := fs.ReadDir(filesystem, "sqlite")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sqlBytes, err := fs.ReadFile(filesystem, "sqlite/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *SQLiteStore) onRetry() {
	if s.metrics != nil {
		s.metrics.StoreRetries.Inc()
	}
}

// classify maps driver lock errors onto the transient contention error.
func classify(err error) error {
	if isLocked(err) {
		return fmt.Errorf("%w: %v", ErrContention, err)
	}
	return err
}

// -- Users --

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	const q = `
SELECT id, name, email, created_at
FROM users
WHERE id = ?
LIMIT 1;
`
	var u User
	var email sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&u.ID, &u.Name, &email, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", classify(err))
	}
	if email.Valid {
		u.Email = &email.String
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// -- Accounts --

func (s *SQLiteStore) GetAccounts(ctx context.Context, userID string) ([]Account, error) {
	const q = `
SELECT id, user_id, account_id, account_type, currency, balance
FROM accounts
WHERE user_id = ?
ORDER BY account_id;
`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", classify(err))
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID, accountID string) (*Account, error) {
	const q = `
SELECT id, user_id, account_id, account_type, currency, balance
FROM accounts
WHERE user_id = ? AND account_id = ?
LIMIT 1;
`
	row := s.db.QueryRowContext(ctx, q, userID, accountID)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return nil, err
	}
	return acc, nil
}

// UpdateAccountBalance overwrites an account balance directly. Deliberately
// not part of the Store facade: the remote tool backend only exposes the
// compound ProcessPayment, and the orchestrator never calls this.
func (s *SQLiteStore) UpdateAccountBalance(ctx context.Context, userID, accountID string, newBalance decimal.Decimal) error {
	const q = `UPDATE accounts SET balance = ? WHERE user_id = ? AND account_id = ?;`
	return withRetry(ctx, s.onRetry, func() error {
		res, err := s.db.ExecContext(ctx, q, newBalance.String(), userID, accountID)
		if err != nil {
			return fmt.Errorf("update balance: %w", classify(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return nil
	})
}

// -- Transactions --

func (s *SQLiteStore) GetRecentTransactions(ctx context.Context, userID, accountID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultTxLimit
	}
	const q = `
SELECT id, user_id, account_id, date, amount, description, merchant, category
FROM transactions
WHERE user_id = ? AND account_id = ?
ORDER BY date DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, userID, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent transactions: %w", classify(err))
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func (s *SQLiteStore) AddTransaction(ctx context.Context, params TransactionParams) (*Transaction, error) {
	txn := newTransaction(params)
	const q = `
INSERT INTO transactions (id, user_id, account_id, date, amount, description, merchant, category)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	err := withRetry(ctx, s.onRetry, func() error {
		_, err := s.db.ExecContext(ctx, q,
			txn.ID,
			txn.UserID,
			txn.AccountID,
			formatTime(txn.Date),
			txn.Amount.String(),
			txn.Description,
			txn.Merchant,
			txn.Category,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// -- Payees --

// FindPayeeByName returns the first payee matching name. Duplicate names are
// possible; this keeps first-match semantics rather than asserting uniqueness.
func (s *SQLiteStore) FindPayeeByName(ctx context.Context, userID, name string) (*Payee, error) {
	const q = `
SELECT id, user_id, name, account_number, address
FROM payees
WHERE user_id = ? AND name = ?
LIMIT 1;
`
	var p Payee
	err := s.db.QueryRowContext(ctx, q, userID, name).Scan(&p.ID, &p.UserID, &p.Name, &p.AccountNumber, &p.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payee %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("find payee: %w", classify(err))
	}
	return &p, nil
}

func (s *SQLiteStore) CreatePayee(ctx context.Context, userID, name, accountNumber, address string) (*Payee, error) {
	p := Payee{
		ID:            "P-" + uuid.NewString(),
		UserID:        userID,
		Name:          name,
		AccountNumber: accountNumber,
		Address:       address,
	}
	const q = `
INSERT INTO payees (id, user_id, name, account_number, address)
VALUES (?, ?, ?, ?, ?);
`
	err := withRetry(ctx, s.onRetry, func() error {
		if _, err := s.db.ExecContext(ctx, q, p.ID, p.UserID, p.Name, p.AccountNumber, p.Address); err != nil {
			return fmt.Errorf("insert payee: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Payments --

// ProcessPayment reads the balance, verifies funds, writes the decrement and
// appends the debit transaction in one database transaction. A balance CAS
// guards against a concurrent writer committing between read and write; the
// loser surfaces as contention and is retried with backoff.
func (s *SQLiteStore) ProcessPayment(ctx context.Context, params PaymentParams) (*PaymentReceipt, error) {
	if params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrMalformedInput)
	}
	memo := params.Memo
	if memo == "" {
		memo = defaultMemo
	}

	var receipt *PaymentReceipt
	err := withRetry(ctx, s.onRetry, func() error {
		r, err := s.processPaymentOnce(ctx, params, memo)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *SQLiteStore) processPaymentOnce(ctx context.Context, params PaymentParams, memo string) (*PaymentReceipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment tx: %w", classify(err))
	}
	defer tx.Rollback()

	var balStr string
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ? AND account_id = ? LIMIT 1;`,
		params.UserID, params.FromAccountID,
	).Scan(&balStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", params.FromAccountID, ErrNotFound)
		}
		return nil, fmt.Errorf("read balance: %w", classify(err))
	}

	balance, err := decimal.NewFromString(balStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored balance %q: %w", balStr, err)
	}
	if balance.Cmp(params.Amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	newBalance := balance.Sub(params.Amount)

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE user_id = ? AND account_id = ? AND balance = ?;`,
		newBalance.String(), params.UserID, params.FromAccountID, balStr,
	)
	if err != nil {
		return nil, fmt.Errorf("write balance: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another writer committed since our read.
		return nil, fmt.Errorf("balance changed under us: %w", ErrContention)
	}

	txn := newTransaction(TransactionParams{
		UserID:      params.UserID,
		AccountID:   params.FromAccountID,
		Amount:      params.Amount.Neg(),
		Description: memo,
		Merchant:    params.PayeeName,
		Category:    paymentCategory,
	})
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, account_id, date, amount, description, merchant, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		txn.ID, txn.UserID, txn.AccountID, formatTime(txn.Date), txn.Amount.String(), txn.Description, txn.Merchant, txn.Category,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment transaction: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment: %w", classify(err))
	}
	return &PaymentReceipt{NewBalance: newBalance, Transaction: txn}, nil
}

// -- helpers --

func newTransaction(params TransactionParams) Transaction {
	category := params.Category
	if category == "" {
		category = defaultCategory
	}
	txn := Transaction{
		ID:          "T-" + uuid.NewString(),
		UserID:      params.UserID,
		AccountID:   params.AccountID,
		Date:        time.Now().UTC(),
		Amount:      params.Amount,
		Description: params.Description,
		Category:    category,
	}
	if params.Merchant != "" {
		merchant := params.Merchant
		txn.Merchant = &merchant
	}
	return txn
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var acc Account
	var balStr string
	if err := row.Scan(&acc.ID, &acc.UserID, &acc.AccountID, &acc.AccountType, &acc.Currency, &balStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	balance, err := decimal.NewFromString(balStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored balance %q: %w", balStr, err)
	}
	acc.Balance = balance
	return &acc, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var txn Transaction
	var date, amtStr string
	var merchant sql.NullString
	if err := row.Scan(&txn.ID, &txn.UserID, &txn.AccountID, &date, &amtStr, &txn.Description, &merchant, &txn.Category); err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	amount, err := decimal.NewFromString(amtStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amtStr, err)
	}
	txn.Amount = amount
	txn.Date = parseTime(date)
	if merchant.Valid {
		txn.Merchant = &merchant.String
	}
	return &txn, nil
}

// timeLayout keeps fractional seconds fixed-width so the TEXT column sorts
// chronologically under ORDER BY; RFC3339Nano trims trailing zeros, which
// breaks lexicographic ordering within a second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
