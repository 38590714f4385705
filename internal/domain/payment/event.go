package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// EventType enumerates the gateway webhook event types the pipeline handles.
type EventType string

const (
	EventIntentSucceeded EventType = "payment_intent.succeeded"
	EventIntentFailed    EventType = "payment_intent.payment_failed"
	EventIntentCanceled  EventType = "payment_intent.canceled"
)

// TargetStatus returns the intent status this event type drives towards.
func (t EventType) TargetStatus() (Status, bool) {
	switch t {
	case EventIntentSucceeded:
		return StatusSucceeded, true
	case EventIntentFailed:
		return StatusFailed, true
	case EventIntentCanceled:
		return StatusCanceled, true
	default:
		return "", false
	}
}

// Event is one asynchronous confirmation delivered by the gateway. Every
// event carries a unique ID; the same event may be delivered more than once.
type Event struct {
	ID       string
	Type     EventType
	IntentID string
	Amount   decimal.Decimal
	Currency string
	Reason   string
}

// ErrMalformedEvent indicates a payload that passed the signature check but
// could not be decoded. Not retryable; redelivery would fail the same way.
var ErrMalformedEvent = errors.New("malformed payment event")

// ParseEvent decodes a gateway webhook payload.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	d := jx.DecodeBytes(raw)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			ev.ID = v
			return err
		case "type":
			v, err := d.Str()
			ev.Type = EventType(v)
			return err
		case "intent_id":
			v, err := d.Str()
			ev.IntentID = v
			return err
		case "amount":
			v, err := d.Str()
			if err != nil {
				return err
			}
			ev.Amount, err = decimal.NewFromString(v)
			return err
		case "currency":
			v, err := d.Str()
			ev.Currency = v
			return err
		case "reason":
			v, err := d.Str()
			ev.Reason = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Event{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.ID == "" || ev.IntentID == "" || ev.Type == "" {
		return Event{}, errors.Wrap(ErrMalformedEvent, "missing id, type or intent_id")
	}
	return ev, nil
}

// Sign computes the hex HMAC-SHA256 signature of a payload. Shared with tests
// and the local development gateway stub.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks the event payload's authenticity with a
// constant-time comparison over the decoded MACs.
func verifySignature(payload []byte, signature string, secret []byte) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
