package toolrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"bankassist/internal/bank"
	"bankassist/internal/metrics"
)

const stopGracePeriod = 3 * time.Second

// ErrBackendUnavailable indicates the tool server process or its transport is
// gone; callers should treat it like store unavailability.
var ErrBackendUnavailable = errors.New("tool backend unavailable")

// Config holds tool backend client configuration.
type Config struct {
	// Command is the tool server executable and its arguments.
	Command []string
	// StartTimeout bounds process spawn plus handshake.
	StartTimeout time.Duration
	// CallTimeout bounds each individual remote call.
	CallTimeout time.Duration
}

// Client spawns the tool server process and forwards each facade call as a
// single named remote invocation. It implements bank.Store. Ownership of the
// child process is explicit: Start spawns it, Stop tears it down.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	readWG sync.WaitGroup

	writeMu sync.Mutex
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]chan *response
	closed    bool
}

// NewClient creates an unstarted client.
func NewClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With("component", "toolclient"),
		metrics: m,
		pending: make(map[int64]chan *response),
	}
}

// Start spawns the tool server and performs the handshake. On any failure the
// child is torn down and the error returned so the caller can fall back to
// the embedded backend.
func (c *Client) Start(ctx context.Context) error {
	if len(c.cfg.Command) == 0 {
		return fmt.Errorf("%w: no command configured", ErrBackendUnavailable)
	}

	cmd := exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: spawn: %v", ErrBackendUnavailable, err)
	}
	c.cmd = cmd
	c.connect(stdin, stdout)

	hsCtx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()
	var res initializeResult
	if err := c.call(hsCtx, methodInitialize, initializeParams{Client: "bankassist", Version: protocolVersion}, &res); err != nil {
		c.teardown()
		return fmt.Errorf("%w: handshake: %v", ErrBackendUnavailable, err)
	}
	if res.Server != serverName {
		c.teardown()
		return fmt.Errorf("%w: unexpected server %q", ErrBackendUnavailable, res.Server)
	}

	c.logger.Info("tool backend started", "server", res.Server, "version", res.Version)
	return nil
}

// connect wires the transport and starts the response reader. Split from
// Start so tests can drive the client over in-process pipes.
func (c *Client) connect(stdin io.WriteCloser, stdout io.Reader) {
	c.stdin = stdin
	reader := bufio.NewReaderSize(stdout, 64*1024)

	c.readWG.Add(1)
	go func() {
		defer c.readWG.Done()
		c.readLoop(reader)
	}()
}

func (c *Client) readLoop(reader *bufio.Reader) {
	dec := json.NewDecoder(reader)
	for {
		var resp response
		if err := dec.Decode(&resp); err != nil {
			c.failPending(err)
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (c *Client) failPending(cause error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	if !errors.Is(cause, io.EOF) {
		c.logger.Warn("tool backend transport closed", "error", cause)
	}
}

// Stop closes the child's stdin, waits briefly for a clean exit and kills it
// if needed. Teardown is deterministic, not tied to garbage collection.
func (c *Client) Stop() error {
	c.teardown()
	if c.cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn("tool backend exited with error", "error", err)
		}
	case <-time.After(stopGracePeriod):
		c.logger.Warn("tool backend did not exit, killing")
		if err := c.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill tool backend: %w", err)
		}
		<-done
	}
	return nil
}

func (c *Client) teardown() {
	if c.stdin != nil {
		c.stdin.Close()
	}
	c.readWG.Wait()
}

func (c *Client) call(ctx context.Context, method string, params, dest any) error {
	start := time.Now()
	err := c.doCall(ctx, method, params, dest)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.ToolRequests.WithLabelValues(method, status).Inc()
		c.metrics.ToolLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
	return err
}

func (c *Client) doCall(ctx context.Context, method string, params, dest any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	ch := make(chan *response, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return ErrBackendUnavailable
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.pendingMu.Unlock()

	line, err := json.Marshal(request{ID: id, Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	_, werr := c.stdin.Write(line)
	c.writeMu.Unlock()
	if werr != nil {
		c.dropPending(id)
		return fmt.Errorf("%w: write: %v", ErrBackendUnavailable, werr)
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrBackendUnavailable
		}
		if resp.Error != nil {
			return fromRPCError(resp.Error)
		}
		if dest != nil {
			if err := json.Unmarshal(resp.Result, dest); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-timer.C:
		c.dropPending(id)
		return fmt.Errorf("%w: %s timed out after %s", ErrBackendUnavailable, method, c.cfg.CallTimeout)
	}
}

func (c *Client) dropPending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func fromRPCError(e *rpcError) error {
	switch e.Code {
	case codeNotFound:
		return fmt.Errorf("%s: %w", e.Message, bank.ErrNotFound)
	case codeInsufficientFunds:
		return fmt.Errorf("%s: %w", e.Message, bank.ErrInsufficientFunds)
	case codeMalformedInput:
		return fmt.Errorf("%s: %w", e.Message, bank.ErrMalformedInput)
	case codeUnavailable:
		return fmt.Errorf("%s: %w", e.Message, bank.ErrStoreUnavailable)
	default:
		return errors.New(e.Message)
	}
}

// -- bank.Store implementation --

// Close tears the child process down.
func (c *Client) Close() {
	if err := c.Stop(); err != nil {
		c.logger.Warn("stopping tool backend", "error", err)
	}
}

// Ping round-trips through the tool server down to its store.
func (c *Client) Ping(ctx context.Context) error {
	var pong string
	return c.call(ctx, methodPing, struct{}{}, &pong)
}

func (c *Client) GetUser(ctx context.Context, userID string) (*bank.User, error) {
	var w wireUser
	if err := c.call(ctx, methodGetUser, userScopeParams{UserID: userID}, &w); err != nil {
		return nil, err
	}
	return fromWireUser(w), nil
}

func (c *Client) GetAccounts(ctx context.Context, userID string) ([]bank.Account, error) {
	var ws []wireAccount
	if err := c.call(ctx, methodGetAccounts, userScopeParams{UserID: userID}, &ws); err != nil {
		return nil, err
	}
	accounts := make([]bank.Account, 0, len(ws))
	for _, w := range ws {
		accounts = append(accounts, fromWireAccount(w))
	}
	return accounts, nil
}

func (c *Client) GetAccount(ctx context.Context, userID, accountID string) (*bank.Account, error) {
	var w wireAccount
	if err := c.call(ctx, methodGetAccount, accountParams{UserID: userID, AccountID: accountID}, &w); err != nil {
		return nil, err
	}
	acc := fromWireAccount(w)
	return &acc, nil
}

func (c *Client) GetRecentTransactions(ctx context.Context, userID, accountID string, limit int) ([]bank.Transaction, error) {
	var ws []wireTransaction
	params := recentTxParams{UserID: userID, AccountID: accountID, Limit: limit}
	if err := c.call(ctx, methodRecentTx, params, &ws); err != nil {
		return nil, err
	}
	txs := make([]bank.Transaction, 0, len(ws))
	for _, w := range ws {
		txs = append(txs, fromWireTransaction(w))
	}
	return txs, nil
}

func (c *Client) AddTransaction(ctx context.Context, params bank.TransactionParams) (*bank.Transaction, error) {
	var w wireTransaction
	p := addTxParams{
		UserID:      params.UserID,
		AccountID:   params.AccountID,
		Amount:      params.Amount,
		Description: params.Description,
		Merchant:    params.Merchant,
		Category:    params.Category,
	}
	if err := c.call(ctx, methodAddTransaction, p, &w); err != nil {
		return nil, err
	}
	txn := fromWireTransaction(w)
	return &txn, nil
}

func (c *Client) FindPayeeByName(ctx context.Context, userID, name string) (*bank.Payee, error) {
	var w wirePayee
	if err := c.call(ctx, methodFindPayeeByName, findPayeeParams{UserID: userID, Name: name}, &w); err != nil {
		return nil, err
	}
	return fromWirePayee(w), nil
}

func (c *Client) CreatePayee(ctx context.Context, userID, name, accountNumber, address string) (*bank.Payee, error) {
	var w wirePayee
	p := createPayeeParams{UserID: userID, Name: name, AccountNumber: accountNumber, Address: address}
	if err := c.call(ctx, methodCreatePayee, p, &w); err != nil {
		return nil, err
	}
	return fromWirePayee(w), nil
}

func (c *Client) ProcessPayment(ctx context.Context, params bank.PaymentParams) (*bank.PaymentReceipt, error) {
	var w wireReceipt
	p := paymentParams{
		UserID:        params.UserID,
		FromAccountID: params.FromAccountID,
		PayeeName:     params.PayeeName,
		Amount:        params.Amount,
		Memo:          params.Memo,
	}
	if err := c.call(ctx, methodProcessPayment, p, &w); err != nil {
		return nil, err
	}
	return &bank.PaymentReceipt{NewBalance: w.NewBalance, Transaction: fromWireTransaction(w.Transaction)}, nil
}

var _ bank.Store = (*Client)(nil)
