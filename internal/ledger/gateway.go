package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a fixed-point value in an issued currency. Payments on the
// ledger carry currency code + issuer + decimal value.
type Amount struct {
	Currency string          `json:"currency"`
	Issuer   string          `json:"issuer"`
	Value    decimal.Decimal `json:"value"`
}

// Gateway is the wire contract with the external value-transfer ledger.
// Finality is asynchronous: submissions return a transaction hash whose
// confirmation must be polled separately.
type Gateway interface {
	// TrustlineExists reports whether account holds a trustline for the
	// currency/issuer pair.
	TrustlineExists(ctx context.Context, account, currency, issuer string) (bool, error)

	// SubmitTrustSet submits a trust-establishment transaction and
	// returns its hash.
	SubmitTrustSet(ctx context.Context, account, currency, issuer string, limit decimal.Decimal) (string, error)

	// SubmitPayment submits a payment from account to dest, tagged with
	// memo, and returns its hash.
	SubmitPayment(ctx context.Context, from, to string, amount Amount, memo string) (string, error)

	// FindPaymentByMemo returns the hash of a previously submitted
	// payment from account carrying memo, or "" if none is known. Used
	// to avoid double submission on retry.
	FindPaymentByMemo(ctx context.Context, from, memo string) (string, error)

	// TransactionConfirmed reports whether the transaction has reached
	// finality.
	TransactionConfirmed(ctx context.Context, txHash string) (bool, error)

	// Balance returns the account's balance in the currency/issuer pair.
	Balance(ctx context.Context, account, currency, issuer string) (decimal.Decimal, error)
}

// httpGateway talks JSON-RPC to a ledger gateway endpoint.
type httpGateway struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGateway creates a Gateway speaking JSON-RPC over HTTP.
func NewHTTPGateway(endpoint string, timeout time.Duration) Gateway {
	return &httpGateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

func (g *httpGateway) call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway returned %d", ErrLedgerUnreachable, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrLedgerUnreachable, err)
	}

	if rpcResp.Error != "" {
		if rpcResp.Error == "INSUFFICIENT_FUNDS" {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("ledger gateway error: %s", rpcResp.Error)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%w: decode result: %v", ErrLedgerUnreachable, err)
		}
	}

	return nil
}

func (g *httpGateway) TrustlineExists(ctx context.Context, account, currency, issuer string) (bool, error) {
	var result struct {
		Exists bool `json:"exists"`
	}
	err := g.call(ctx, "trustline_exists", map[string]string{
		"account":  account,
		"currency": currency,
		"issuer":   issuer,
	}, &result)
	if err != nil {
		return false, err
	}
	return result.Exists, nil
}

func (g *httpGateway) SubmitTrustSet(ctx context.Context, account, currency, issuer string, limit decimal.Decimal) (string, error) {
	var result struct {
		TxHash string `json:"tx_hash"`
	}
	err := g.call(ctx, "trust_set", map[string]string{
		"account":  account,
		"currency": currency,
		"issuer":   issuer,
		"limit":    limit.String(),
	}, &result)
	if err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (g *httpGateway) SubmitPayment(ctx context.Context, from, to string, amount Amount, memo string) (string, error) {
	var result struct {
		TxHash string `json:"tx_hash"`
	}
	err := g.call(ctx, "payment_submit", map[string]string{
		"from":     from,
		"to":       to,
		"currency": amount.Currency,
		"issuer":   amount.Issuer,
		"value":    amount.Value.String(),
		"memo":     memo,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (g *httpGateway) FindPaymentByMemo(ctx context.Context, from, memo string) (string, error) {
	var result struct {
		TxHash string `json:"tx_hash"`
	}
	err := g.call(ctx, "payment_find", map[string]string{
		"from": from,
		"memo": memo,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (g *httpGateway) TransactionConfirmed(ctx context.Context, txHash string) (bool, error) {
	var result struct {
		Confirmed bool `json:"confirmed"`
	}
	err := g.call(ctx, "tx_status", map[string]string{"tx_hash": txHash}, &result)
	if err != nil {
		return false, err
	}
	return result.Confirmed, nil
}

func (g *httpGateway) Balance(ctx context.Context, account, currency, issuer string) (decimal.Decimal, error) {
	var result struct {
		Balance string `json:"balance"`
	}
	err := g.call(ctx, "balance", map[string]string{
		"account":  account,
		"currency": currency,
		"issuer":   issuer,
	}, &result)
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance from gateway: %w", err)
	}
	return balance, nil
}
