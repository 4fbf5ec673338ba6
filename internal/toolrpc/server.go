package toolrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"bankassist/internal/bank"
)

// maxLineBytes bounds a single request/response line.
const maxLineBytes = 1 << 20

// Server dispatches tool calls to a bank.Store. One server handles one
// connection (stdio); requests are processed sequentially in arrival order.
type Server struct {
	store  bank.Store
	logger *slog.Logger
}

// NewServer wraps a store for serving.
func NewServer(store bank.Store, logger *slog.Logger) *Server {
	return &Server{
		store:  store,
		logger: logger.With("component", "toolserver"),
	}
}

// Serve reads requests line by line from r and writes one response line per
// request to w. Returns when r is closed or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("malformed request line", "error", err)
			continue
		}

		resp := s.handle(ctx, &req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, req *request) *response {
	result, err := s.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		s.logger.Debug("call failed", "method", req.Method, "error", err)
		return &response{ID: req.ID, Error: toRPCError(err)}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return &response{ID: req.ID, Error: &rpcError{Code: codeInternal, Message: err.Error()}}
	}
	return &response{ID: req.ID, Result: raw}
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case methodInitialize:
		return initializeResult{Server: serverName, Version: protocolVersion}, nil

	case methodPing:
		if err := s.store.Ping(ctx); err != nil {
			return nil, err
		}
		return "pong", nil

	case methodGetUser:
		var p userScopeParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		u, err := s.store.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		return toWireUser(u), nil

	case methodGetAccounts:
		var p userScopeParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		accounts, err := s.store.GetAccounts(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		out := make([]wireAccount, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, toWireAccount(a))
		}
		return out, nil

	case methodGetAccount:
		var p accountParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		acc, err := s.store.GetAccount(ctx, p.UserID, p.AccountID)
		if err != nil {
			return nil, err
		}
		return toWireAccount(*acc), nil

	case methodRecentTx:
		var p recentTxParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		txs, err := s.store.GetRecentTransactions(ctx, p.UserID, p.AccountID, p.Limit)
		if err != nil {
			return nil, err
		}
		out := make([]wireTransaction, 0, len(txs))
		for _, t := range txs {
			out = append(out, toWireTransaction(t))
		}
		return out, nil

	case methodAddTransaction:
		var p addTxParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		txn, err := s.store.AddTransaction(ctx, bank.TransactionParams{
			UserID:      p.UserID,
			AccountID:   p.AccountID,
			Amount:      p.Amount,
			Description: p.Description,
			Merchant:    p.Merchant,
			Category:    p.Category,
		})
		if err != nil {
			return nil, err
		}
		return toWireTransaction(*txn), nil

	case methodFindPayeeByName:
		var p findPayeeParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		payee, err := s.store.FindPayeeByName(ctx, p.UserID, p.Name)
		if err != nil {
			return nil, err
		}
		return toWirePayee(payee), nil

	case methodCreatePayee:
		var p createPayeeParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		payee, err := s.store.CreatePayee(ctx, p.UserID, p.Name, p.AccountNumber, p.Address)
		if err != nil {
			return nil, err
		}
		return toWirePayee(payee), nil

	case methodProcessPayment:
		var p paymentParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		receipt, err := s.store.ProcessPayment(ctx, bank.PaymentParams{
			UserID:        p.UserID,
			FromAccountID: p.FromAccountID,
			PayeeName:     p.PayeeName,
			Amount:        p.Amount,
			Memo:          p.Memo,
		})
		if err != nil {
			return nil, err
		}
		return wireReceipt{NewBalance: receipt.NewBalance, Transaction: toWireTransaction(receipt.Transaction)}, nil

	default:
		return nil, fmt.Errorf("%w: unknown method %q", bank.ErrMalformedInput, method)
	}
}

func decode(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", bank.ErrMalformedInput)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", bank.ErrMalformedInput, err)
	}
	return nil
}

func toRPCError(err error) *rpcError {
	switch {
	case errors.Is(err, bank.ErrNotFound):
		return &rpcError{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, bank.ErrInsufficientFunds):
		return &rpcError{Code: codeInsufficientFunds, Message: err.Error()}
	case errors.Is(err, bank.ErrMalformedInput):
		return &rpcError{Code: codeMalformedInput, Message: err.Error()}
	case errors.Is(err, bank.ErrStoreUnavailable):
		return &rpcError{Code: codeUnavailable, Message: err.Error()}
	default:
		return &rpcError{Code: codeInternal, Message: err.Error()}
	}
}
