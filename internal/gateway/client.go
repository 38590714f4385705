// Package gateway implements the HTTP client for the external payment
// provider. All mutating calls carry an Idempotency-Key header so network
// retries never create duplicate charges.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

var _ payment.Gateway = (*Client)(nil)

// classifyTransportErr separates timeouts, whose outcome on the provider
// side is unknown, from plain connectivity failures where no request ever
// reached the provider.
func classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrap(payment.ErrGatewayTimeout, err.Error())
	}
	return errors.Wrap(payment.ErrGatewayUnavailable, err.Error())
}

// Config holds the gateway connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the payment provider's REST API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient constructs a Client with an instrumented transport.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// CreateIntent asks the provider to open a payment intent. The provider
// deduplicates on the Idempotency-Key header, so calling this twice with the
// same key returns the same intent.
func (c *Client) CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.GatewayIntent, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Str(req.Amount.StringFixed(2)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/intents", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(payment.ErrGatewayUnavailable, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return decodeIntent(body)
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, &payment.DeclinedError{Reason: decodeErrorReason(body)}
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "status %d", resp.StatusCode)
	default:
		return nil, errors.Errorf("create intent: unexpected status %d", resp.StatusCode)
	}
}

// IntentStatus fetches the authoritative status of an intent.
func (c *Client) IntentStatus(ctx context.Context, intentID string) (payment.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/intents/"+intentID, nil)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(payment.ErrGatewayUnavailable, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		intent, err := decodeIntent(body)
		if err != nil {
			return "", err
		}
		return intent.Status, nil
	case resp.StatusCode == http.StatusNotFound:
		return "", payment.ErrIntentNotFound
	case resp.StatusCode >= 500:
		return "", errors.Wrapf(payment.ErrGatewayUnavailable, "status %d", resp.StatusCode)
	default:
		return "", errors.Errorf("intent status: unexpected status %d", resp.StatusCode)
	}
}

func decodeIntent(body []byte) (*payment.GatewayIntent, error) {
	var intent payment.GatewayIntent
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			if err != nil {
				return err
			}
			intent.ID = v
		case "status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			intent.Status = payment.Status(v)
		case "amount":
			v, err := d.Str()
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(v)
			if err != nil {
				return errors.Wrap(err, "parse amount")
			}
			intent.Amount = amount
		case "currency":
			v, err := d.Str()
			if err != nil {
				return err
			}
			intent.Currency = v
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode intent")
	}
	if intent.ID == "" {
		return nil, errors.New("decode intent: missing id")
	}
	return &intent, nil
}

func decodeErrorReason(body []byte) string {
	reason := "card_declined"
	d := jx.DecodeBytes(body)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key != "decline_reason" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		reason = v
		return nil
	})
	return reason
}
