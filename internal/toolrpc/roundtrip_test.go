package toolrpc

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bankassist/internal/bank"
	"bankassist/migrations"
)

func newSeededStore(t *testing.T) *bank.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := bank.NewSQLite(ctx, filepath.Join(t.TempDir(), "bank.db"), logger, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.Files))
	require.NoError(t, store.SeedDemo(ctx))
	return store
}

// newPipedClient serves the given store over in-process pipes and returns a
// client speaking the wire protocol against it, exactly as it would against a
// spawned child process.
func newPipedClient(t *testing.T, store bank.Store) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	server := NewServer(store, logger)
	go func() {
		defer respW.Close()
		_ = server.Serve(ctx, reqR, respW)
	}()

	client := NewClient(Config{CallTimeout: 5 * time.Second}, logger, nil)
	client.connect(reqW, respR)

	t.Cleanup(func() {
		_ = client.Stop()
		cancel()
	})
	return client
}

func TestHandshake(t *testing.T) {
	client := newPipedClient(t, newSeededStore(t))

	var res initializeResult
	err := client.call(context.Background(), methodInitialize, initializeParams{Client: "test", Version: protocolVersion}, &res)
	require.NoError(t, err)
	require.Equal(t, serverName, res.Server)
	require.Equal(t, protocolVersion, res.Version)
}

// Both backends implement the same facade; every read and the payment
// mutation must agree between the embedded store and the wire-served one.
func TestBackendEquivalence(t *testing.T) {
	ctx := context.Background()
	direct := newSeededStore(t)
	remote := newPipedClient(t, newSeededStore(t))

	directUser, err := direct.GetUser(ctx, bank.DemoUserID)
	require.NoError(t, err)
	remoteUser, err := remote.GetUser(ctx, bank.DemoUserID)
	require.NoError(t, err)
	require.Equal(t, directUser.ID, remoteUser.ID)
	require.Equal(t, directUser.Name, remoteUser.Name)

	directAccounts, err := direct.GetAccounts(ctx, bank.DemoUserID)
	require.NoError(t, err)
	remoteAccounts, err := remote.GetAccounts(ctx, bank.DemoUserID)
	require.NoError(t, err)
	require.Len(t, remoteAccounts, len(directAccounts))
	for i := range directAccounts {
		require.Equal(t, directAccounts[i].AccountID, remoteAccounts[i].AccountID)
		require.True(t, directAccounts[i].Balance.Equal(remoteAccounts[i].Balance),
			"balance mismatch for %s", directAccounts[i].AccountID)
	}

	params := bank.PaymentParams{
		UserID:        bank.DemoUserID,
		FromAccountID: "CHK-001",
		PayeeName:     "ACME Utilities",
		Amount:        decimal.RequireFromString("125.50"),
	}
	directReceipt, err := direct.ProcessPayment(ctx, params)
	require.NoError(t, err)
	remoteReceipt, err := remote.ProcessPayment(ctx, params)
	require.NoError(t, err)
	require.True(t, directReceipt.NewBalance.Equal(remoteReceipt.NewBalance))
	require.True(t, directReceipt.Transaction.Amount.Equal(remoteReceipt.Transaction.Amount))
	require.Equal(t, directReceipt.Transaction.Category, remoteReceipt.Transaction.Category)

	directTxs, err := direct.GetRecentTransactions(ctx, bank.DemoUserID, "CHK-001", 10)
	require.NoError(t, err)
	remoteTxs, err := remote.GetRecentTransactions(ctx, bank.DemoUserID, "CHK-001", 10)
	require.NoError(t, err)
	require.Len(t, remoteTxs, len(directTxs))

	directPayee, err := direct.FindPayeeByName(ctx, bank.DemoUserID, "CityNet Internet")
	require.NoError(t, err)
	remotePayee, err := remote.FindPayeeByName(ctx, bank.DemoUserID, "CityNet Internet")
	require.NoError(t, err)
	require.Equal(t, directPayee.AccountNumber, remotePayee.AccountNumber)
}

func TestErrorTaxonomySurvivesWire(t *testing.T) {
	ctx := context.Background()
	remote := newPipedClient(t, newSeededStore(t))

	_, err := remote.GetUser(ctx, "nobody")
	require.ErrorIs(t, err, bank.ErrNotFound)

	_, err = remote.ProcessPayment(ctx, bank.PaymentParams{
		UserID:        bank.DemoUserID,
		FromAccountID: "CHK-001",
		PayeeName:     "ACME Utilities",
		Amount:        decimal.RequireFromString("1000000"),
	})
	require.ErrorIs(t, err, bank.ErrInsufficientFunds)

	_, err = remote.ProcessPayment(ctx, bank.PaymentParams{
		UserID:        bank.DemoUserID,
		FromAccountID: "CHK-001",
		PayeeName:     "ACME Utilities",
		Amount:        decimal.RequireFromString("-5"),
	})
	require.ErrorIs(t, err, bank.ErrMalformedInput)

	err = remote.call(ctx, "no_such_method", struct{}{}, nil)
	require.ErrorIs(t, err, bank.ErrMalformedInput)
}

func TestMutationsVisibleThroughWire(t *testing.T) {
	ctx := context.Background()
	remote := newPipedClient(t, newSeededStore(t))

	created, err := remote.CreatePayee(ctx, bank.DemoUserID, "Water Works", "111222333", "9 River Rd")
	require.NoError(t, err)
	found, err := remote.FindPayeeByName(ctx, bank.DemoUserID, "Water Works")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)

	txn, err := remote.AddTransaction(ctx, bank.TransactionParams{
		UserID:      bank.DemoUserID,
		AccountID:   "CHK-001",
		Amount:      decimal.RequireFromString("-9.99"),
		Description: "Coffee",
		Merchant:    "Espresso Bar",
	})
	require.NoError(t, err)
	require.NotNil(t, txn.Merchant)

	txs, err := remote.GetRecentTransactions(ctx, bank.DemoUserID, "CHK-001", 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, txn.ID, txs[0].ID)
}
