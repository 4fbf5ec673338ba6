package bank

import (
	"context"
	"fmt"
	"time"
)

// Demo dataset used for local development and tests.
const DemoUserID = "husamhilal"

type seedAccount struct {
	id, accountID, accountType, currency, balance string
}

type seedPayee struct {
	name, accountNumber, address string
}

type seedTransaction struct {
	accountID   string
	daysAgo     int
	amount      string
	description string
	merchant    string
	category    string
}

var (
	demoAccounts = []seedAccount{
		{"acc-checking", "CHK-001", "checking", "USD", "4850.75"},
		{"acc-savings", "SAV-001", "savings", "USD", "15230"},
	}
	demoPayees = []seedPayee{
		{"ACME Utilities", "987654321", "123 Energy Ave, Metropolis"},
		{"CityNet Internet", "555000222", "88 Fiber St, Metropolis"},
	}
	demoTransactions = []seedTransaction{
		{"CHK-001", 2, "-120.45", "Electricity bill", "ACME Utilities", "utilities"},
		{"CHK-001", 6, "-65", "Monthly internet", "CityNet Internet", "utilities"},
		{"CHK-001", 7, "-45.23", "Groceries", "Grocery Mart", "grocery"},
		{"CHK-001", 8, "2500", "Salary", "Employer Inc.", "income"},
		{"CHK-001", 10, "-12.99", "Entertainment", "StreamingCo", "entertainment"},
	}
)

// SeedDemo resets and loads the demo dataset: one user, a checking and a
// savings account, two payees and a handful of checking transactions.
func (s *SQLiteStore) SeedDemo(ctx context.Context) error {
	stmts := []struct {
		q    string
		args []any
	}{
		{`DELETE FROM transactions;`, nil},
		{`DELETE FROM payees;`, nil},
		{`DELETE FROM accounts;`, nil},
		{`DELETE FROM users;`, nil},
		{`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?);`,
			[]any{DemoUserID, "Husam Hilal", "husam@example.com", formatTime(time.Now())}},
	}
	for _, acc := range demoAccounts {
		stmts = append(stmts, struct {
			q    string
			args []any
		}{`INSERT INTO accounts (id, user_id, account_id, account_type, currency, balance) VALUES (?, ?, ?, ?, ?, ?);`,
			[]any{acc.id, DemoUserID, acc.accountID, acc.accountType, acc.currency, acc.balance}})
	}
	for i, p := range demoPayees {
		stmts = append(stmts, struct {
			q    string
			args []any
		}{`INSERT INTO payees (id, user_id, name, account_number, address) VALUES (?, ?, ?, ?, ?);`,
			[]any{fmt.Sprintf("P-%03d", i+1), DemoUserID, p.name, p.accountNumber, p.address}})
	}
	now := time.Now().UTC()
	for i, t := range demoTransactions {
		date := now.AddDate(0, 0, -t.daysAgo)
		stmts = append(stmts, struct {
			q    string
			args []any
		}{`INSERT INTO transactions (id, user_id, account_id, date, amount, description, merchant, category) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
			[]any{fmt.Sprintf("T-%03d", i+1), DemoUserID, t.accountID, formatTime(date), t.amount, t.description, t.merchant, t.category}})
	}

	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st.q, st.args...); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}
	s.logger.Info("demo dataset seeded", "user", DemoUserID)
	return nil
}

// SeedDemo mirrors the SQLite seeding for the Postgres backend.
func (s *PostgresStore) SeedDemo(ctx context.Context) error {
	type stmt struct {
		q    string
		args []any
	}
	stmts := []stmt{
		{`DELETE FROM transactions;`, nil},
		{`DELETE FROM payees;`, nil},
		{`DELETE FROM accounts;`, nil},
		{`DELETE FROM users;`, nil},
		{`INSERT INTO users (id, name, email) VALUES ($1, $2, $3);`,
			[]any{DemoUserID, "Husam Hilal", "husam@example.com"}},
	}
	for _, acc := range demoAccounts {
		stmts = append(stmts, stmt{`INSERT INTO accounts (id, user_id, account_id, account_type, currency, balance) VALUES ($1, $2, $3, $4, $5, $6);`,
			[]any{acc.id, DemoUserID, acc.accountID, acc.accountType, acc.currency, acc.balance}})
	}
	for i, p := range demoPayees {
		stmts = append(stmts, stmt{`INSERT INTO payees (id, user_id, name, account_number, address) VALUES ($1, $2, $3, $4, $5);`,
			[]any{fmt.Sprintf("P-%03d", i+1), DemoUserID, p.name, p.accountNumber, p.address}})
	}
	now := time.Now().UTC()
	for i, t := range demoTransactions {
		date := now.AddDate(0, 0, -t.daysAgo)
		stmts = append(stmts, stmt{`INSERT INTO transactions (id, user_id, account_id, date, amount, description, merchant, category) VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`,
			[]any{fmt.Sprintf("T-%03d", i+1), DemoUserID, t.accountID, date, t.amount, t.description, t.merchant, t.category}})
	}

	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st.q, st.args...); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}
	s.logger.Info("demo dataset seeded", "user", DemoUserID)
	return nil
}
