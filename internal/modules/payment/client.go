// README: HTTP client for the mobile money gateway (charges, driver transfers, status, webhooks).
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coursier/internal/types"
)

// HeaderTimestamp and HeaderSignature are used in both directions: on our
// requests and on the gateway's webhook callbacks.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

const (
	headerAPIKey      = "X-Api-Key"
	headerIdempotency = "X-Idempotency-Key"

	defaultTimeout   = 15 * time.Second
	defaultTolerance = 5 * time.Minute
	maxResponseBytes = 1 << 20
)

// Config is passed in explicitly; the client never reads the environment.
type Config struct {
	BaseURL          string
	APIKey           string
	SecretKey        string
	Currency         string
	Timeout          time.Duration
	WebhookTolerance time.Duration
}

func (c Config) configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.SecretKey != ""
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

func WithClientClock(now func() time.Time) ClientOption { return func(c *Client) { c.now = now } }

func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = defaultTolerance
	}
	if cfg.Currency == "" {
		cfg.Currency = types.CurrencyXOF
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chargeBody struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Phone       string `json:"phone"`
	OrderID     string `json:"order_id"`
	Description string `json:"description"`
}

type transferBody struct {
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Currency  string `json:"currency"`
	Phone     string `json:"phone"`
	DriverID  string `json:"driver_id"`
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Rail      string `json:"rail"`
}

type gatewayResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// ProcessPayment charges the customer's mobile money account.
func (c *Client) ProcessPayment(ctx context.Context, req PaymentRequest) (Result, error) {
	if !c.cfg.configured() {
		return Result{}, ErrNotConfigured
	}
	if req.Amount.Amount <= 0 {
		return failed("amount must be positive"), nil
	}
	key := req.IdempotencyKey
	if key == "" {
		key = ChargeKey(req.OrderID, 0)
	}
	return c.do(ctx, http.MethodPost, "/payments", key, chargeBody{
		Amount:      req.Amount.Decimal(),
		Currency:    c.currency(req.Amount),
		Phone:       req.CustomerPhone,
		OrderID:     req.OrderID.String(),
		Description: req.Description,
	}), nil
}

// TransferToDriver pays out a driver's earnings. The rail fee is withheld from the amount.
func (c *Client) TransferToDriver(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if !c.cfg.configured() {
		return TransferResult{}, ErrNotConfigured
	}
	if req.Rail == "" {
		req.Rail = RailWallet
	}
	ref := PayoutReference(req.DriverID, req.OrderID)
	fee := TransferFee(req.Amount, req.Rail)
	net := req.Amount.Sub(fee)
	out := TransferResult{Reference: ref, Fee: fee, Net: net}
	if net.Amount <= 0 {
		out.Result = failed("transfer amount must be positive")
		return out, nil
	}
	out.Result = c.do(ctx, http.MethodPost, "/transfers", ref, transferBody{
		Amount:    net.Decimal(),
		Fee:       fee.Decimal(),
		Currency:  c.currency(req.Amount),
		Phone:     req.DriverPhone,
		DriverID:  req.DriverID.String(),
		OrderID:   req.OrderID.String(),
		Reference: ref,
		Rail:      string(req.Rail),
	})
	return out, nil
}

func (c *Client) CheckTransactionStatus(ctx context.Context, transactionID string) (Result, error) {
	if !c.cfg.configured() {
		return Result{}, ErrNotConfigured
	}
	if strings.TrimSpace(transactionID) == "" {
		return failed("missing transaction id"), nil
	}
	res := c.do(ctx, http.MethodGet, "/transactions/"+transactionID, "", nil)
	if res.TransactionID == "" {
		res.TransactionID = transactionID
	}
	return res, nil
}

// ValidateWebhook checks hex(HMAC-SHA256(secret, timestamp+payload)) and that the
// timestamp is within the tolerance window.
func (c *Client) ValidateWebhook(signature, payload, timestamp string) bool {
	if c.cfg.SecretKey == "" || signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return false
	}
	skew := c.now().Unix() - ts
	if math.Abs(float64(skew)) > c.cfg.WebhookTolerance.Seconds() {
		return false
	}
	expected := c.sign(timestamp, []byte(payload))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func (c *Client) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) currency(m types.Money) string {
	if m.Currency != "" {
		return m.Currency
	}
	return c.cfg.Currency
}

// do performs a signed request. Every failure ends up as a failed Result.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, payload any) Result {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return failed(fmt.Sprintf("marshal request: %v", err))
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return failed(fmt.Sprintf("build request: %v", err))
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, c.cfg.APIKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, c.sign(ts, body))
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotency, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return failed(fmt.Sprintf("gateway unreachable: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failed(fmt.Sprintf("read response: %v", err))
	}

	var gr gatewayResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &gr); err != nil && resp.StatusCode < 300 {
			return failed(fmt.Sprintf("decode response: %v", err))
		}
	}
	if resp.StatusCode >= 300 {
		msg := gr.Message
		if msg == "" {
			msg = resp.Status
		}
		return Result{
			Success:       false,
			TransactionID: gr.TransactionID,
			Status:        StatusFailed,
			Message:       msg,
			Answered:      resp.StatusCode < 500,
		}
	}

	status := NormalizeStatus(gr.Status)
	return Result{
		Success:       status != StatusFailed,
		TransactionID: gr.TransactionID,
		Status:        status,
		Message:       gr.Message,
		Answered:      true,
	}
}
