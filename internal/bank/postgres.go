package bank

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bankassist/internal/metrics"
)

// PostgresStore is the embedded backend over a Postgres database, selected
// when DATABASE_URL is configured.
type PostgresStore struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPostgres opens a new connection pool to the database. A bounded
// lock_timeout keeps row-lock waits on the same retry path as the SQLite busy
// timeout.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger, m *metrics.Metrics) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["lock_timeout"] = "5000"
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:    pool,
		logger:  logger.With("component", "store_postgres"),
		metrics: m,
	}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies the postgres migration files in lexicographical order.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	entries, err := fs.ReadDir(filesystem, "postgres")
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
		sqlBytes, err := fs.ReadFile(filesystem, "postgres/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, string(sqlBytes))
			return err
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *PostgresStore) onRetry() {
	if s.metrics != nil {
		s.metrics.StoreRetries.Inc()
	}
}

// classifyPG maps lock and serialization failures onto the transient
// contention error.
func classifyPG(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", ErrContention, err)
		}
	}
	return err
}

// -- Users --

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*User, error) {
	const q = `
SELECT id, name, email, created_at
FROM users
WHERE id = $1
LIMIT 1;
`
	var u User
	var email *string
	err := s.pool.QueryRow(ctx, q, userID).Scan(&u.ID, &u.Name, &email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", classifyPG(err))
	}
	u.Email = email
	return &u, nil
}

// -- Accounts --

func (s *PostgresStore) GetAccounts(ctx context.Context, userID string) ([]Account, error) {
	const q = `
SELECT id, user_id, account_id, account_type, currency, balance::text
FROM accounts
WHERE user_id = $1
ORDER BY account_id;
`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", classifyPG(err))
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

func (s *PostgresStore) GetAccount(ctx context.Context, userID, accountID string) (*Account, error) {
	const q = `
SELECT id, user_id, account_id, account_type, currency, balance::text
FROM accounts
WHERE user_id = $1 AND account_id = $2
LIMIT 1;
`
	acc, err := scanAccount(s.pool.QueryRow(ctx, q, userID, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return nil, err
	}
	return acc, nil
}

// -- Transactions --

func (s *PostgresStore) GetRecentTransactions(ctx context.Context, userID, accountID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultTxLimit
	}
	const q = `
SELECT id, user_id, account_id, date, amount::text, description, merchant, category
FROM transactions
WHERE user_id = $1 AND account_id = $2
ORDER BY date DESC
LIMIT $3;
`
	rows, err := s.pool.Query(ctx, q, userID, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent transactions: %w", classifyPG(err))
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		txn, err := scanTransactionPG(rows)
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

func (s *PostgresStore) AddTransaction(ctx context.Context, params TransactionParams) (*Transaction, error) {
	txn := newTransaction(params)
	const q = `
INSERT INTO transactions (id, user_id, account_id, date, amount, description, merchant, category)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	err := withRetry(ctx, s.onRetry, func() error {
		_, err := s.pool.Exec(ctx, q,
			txn.ID, txn.UserID, txn.AccountID, txn.Date, txn.Amount.String(), txn.Description, txn.Merchant, txn.Category,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", classifyPG(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// -- Payees --

func (s *PostgresStore) FindPayeeByName(ctx context.Context, userID, name string) (*Payee, error) {
	const q = `
SELECT id, user_id, name, account_number, address
FROM payees
WHERE user_id = $1 AND name = $2
LIMIT 1;
`
	var p Payee
	err := s.pool.QueryRow(ctx, q, userID, name).Scan(&p.ID, &p.UserID, &p.Name, &p.AccountNumber, &p.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payee %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("find payee: %w", classifyPG(err))
	}
	return &p, nil
}

func (s *PostgresStore) CreatePayee(ctx context.Context, userID, name, accountNumber, address string) (*Payee, error) {
	p := Payee{
		ID:            "P-" + uuid.NewString(),
		UserID:        userID,
		Name:          name,
		AccountNumber: accountNumber,
		Address:       address,
	}
	const q = `
INSERT INTO payees (id, user_id, name, account_number, address)
VALUES ($1, $2, $3, $4, $5);
`
	err := withRetry(ctx, s.onRetry, func() error {
		if _, err := s.pool.Exec(ctx, q, p.ID, p.UserID, p.Name, p.AccountNumber, p.Address); err != nil {
			return fmt.Errorf("insert payee: %w", classifyPG(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Payments --

// ProcessPayment serializes same-account writers with SELECT ... FOR UPDATE;
// bounded lock waits surface as contention and retry with backoff.
func (s *PostgresStore) ProcessPayment(ctx context.Context, params PaymentParams) (*PaymentReceipt, error) {
	if params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrMalformedInput)
	}
	memo := params.Memo
	if memo == "" {
		memo = defaultMemo
	}

	var receipt *PaymentReceipt
	err := withRetry(ctx, s.onRetry, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var balStr string
			err := tx.QueryRow(ctx,
				`SELECT balance::text FROM accounts WHERE user_id = $1 AND account_id = $2 FOR UPDATE;`,
				params.UserID, params.FromAccountID,
			).Scan(&balStr)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("account %s: %w", params.FromAccountID, ErrNotFound)
				}
				return fmt.Errorf("read balance: %w", classifyPG(err))
			}

			balance, err := decimal.NewFromString(balStr)
			if err != nil {
				return fmt.Errorf("parse stored balance %q: %w", balStr, err)
			}
			if balance.Cmp(params.Amount) < 0 {
				return ErrInsufficientFunds
			}
			newBalance := balance.Sub(params.Amount)

			if _, err := tx.Exec(ctx,
				`UPDATE accounts SET balance = $1 WHERE user_id = $2 AND account_id = $3;`,
				newBalance.String(), params.UserID, params.FromAccountID,
			); err != nil {
				return fmt.Errorf("write balance: %w", classifyPG(err))
			}

			txn := newTransaction(TransactionParams{
				UserID:      params.UserID,
				AccountID:   params.FromAccountID,
				Amount:      params.Amount.Neg(),
				Description: memo,
				Merchant:    params.PayeeName,
				Category:    paymentCategory,
			})
			if _, err := tx.Exec(ctx,
				`INSERT INTO transactions (id, user_id, account_id, date, amount, description, merchant, category)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`,
				txn.ID, txn.UserID, txn.AccountID, txn.Date, txn.Amount.String(), txn.Description, txn.Merchant, txn.Category,
			); err != nil {
				return fmt.Errorf("insert payment transaction: %w", classifyPG(err))
			}

			receipt = &PaymentReceipt{NewBalance: newBalance, Transaction: txn}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func scanTransactionPG(rows pgx.Rows) (*Transaction, error) {
	var txn Transaction
	var amtStr string
	var merchant *string
	var date time.Time
	if err := rows.Scan(&txn.ID, &txn.UserID, &txn.AccountID, &date, &amtStr, &txn.Description, &merchant, &txn.Category); err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	amount, err := decimal.NewFromString(amtStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amtStr, err)
	}
	txn.Amount = amount
	txn.Date = date
	txn.Merchant = merchant
	return &txn, nil
}
