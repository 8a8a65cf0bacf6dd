package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-prayer-backend/internal/config"
)

// Provider error codes. Only CodeDeviceNotRegistered and CodeInvalidToken
// mean the destination token will never work again.
const (
	CodeDeviceNotRegistered = "DeviceNotRegistered"
	CodeInvalidToken        = "InvalidToken"
	CodeMessageTooBig       = "MessageTooBig"
	CodeMessageRateExceeded = "MessageRateExceeded"
	CodeMismatchSenderID    = "MismatchSenderId"
	CodeInvalidCredentials  = "InvalidCredentials"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeProviderUnavailable = "ProviderUnavailable"
)

// PushMessage is a single push notification.
type PushMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

// Ticket identifies an accepted submission.
type Ticket struct {
	ID string
}

// Receipt is the provider's delivery report for a ticket.
type Receipt struct {
	Status  string `json:"status"` // "ok" | "error"
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details"`
}

// Err converts an error receipt into a *PushError, or nil for "ok".
func (r *Receipt) Err() error {
	if r == nil || r.Status != "error" {
		return nil
	}
	return &PushError{Code: r.Details.Error, Message: r.Message}
}

// PushError is a provider-reported or transport-level push failure.
type PushError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *PushError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("push: %s: %s", e.Code, e.Message)
}

// Permanent reports whether the destination token is permanently invalid
// and should be erased. Rate limits, oversize payloads, credential problems
// on our side and provider outages are not the token's fault.
func (e *PushError) Permanent() bool {
	switch e.Code {
	case CodeDeviceNotRegistered, CodeInvalidToken:
		return true
	}
	return false
}

// IsPermanent reports whether err wraps a permanent *PushError.
func IsPermanent(err error) bool {
	var pe *PushError
	return errors.As(err, &pe) && pe.Permanent()
}

// IsExpoPushToken reports whether token has the ExponentPushToken[...] or
// ExpoPushToken[...] shape accepted by the Expo push service.
func IsExpoPushToken(token string) bool {
	for _, p := range []string{"ExponentPushToken[", "ExpoPushToken["} {
		if strings.HasPrefix(token, p) && strings.HasSuffix(token, "]") && len(token) > len(p)+1 {
			return true
		}
	}
	return false
}

// ExpoClient talks to the Expo push service: a ticket from the send
// endpoint, a receipt from the getReceipts endpoint.
type ExpoClient struct {
	endpoint        string
	receiptEndpoint string
	accessToken     string
	hc              *http.Client
}

// NewExpoClient builds a client for cfg. A nil hc uses a client with a 15s
// timeout; per-call deadlines come from the context.
func NewExpoClient(cfg config.PushConfig, hc *http.Client) *ExpoClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &ExpoClient{
		endpoint:        cfg.Endpoint,
		receiptEndpoint: cfg.ReceiptEndpoint,
		accessToken:     cfg.AccessToken,
		hc:              hc,
	}
}

type expoSendResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoReceiptResponse struct {
	Data   map[string]Receipt `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Submit sends msg and returns its ticket. A malformed token is rejected
// locally with CodeInvalidToken.
func (c *ExpoClient) Submit(ctx context.Context, msg PushMessage) (Ticket, error) {
	if !IsExpoPushToken(msg.To) {
		return Ticket{}, &PushError{Code: CodeInvalidToken, Message: "token is not an Expo push token"}
	}
	if msg.Sound == "" {
		msg.Sound = "default"
	}

	var out expoSendResponse
	if err := c.post(ctx, c.endpoint, []PushMessage{msg}, &out); err != nil {
		return Ticket{}, err
	}
	if len(out.Errors) > 0 {
		return Ticket{}, &PushError{Code: out.Errors[0].Code, Message: out.Errors[0].Message}
	}
	if len(out.Data) == 0 {
		return Ticket{}, &PushError{Code: CodeProviderUnavailable, Message: "empty ticket response"}
	}
	t := out.Data[0]
	if t.Status != "ok" {
		return Ticket{}, &PushError{Code: t.Details.Error, Message: t.Message}
	}
	return Ticket{ID: t.ID}, nil
}

// Receipt fetches the receipt for ticketID, or (nil, nil) when the provider
// has not produced one.
func (c *ExpoClient) Receipt(ctx context.Context, ticketID string) (*Receipt, error) {
	var out expoReceiptResponse
	if err := c.post(ctx, c.receiptEndpoint, map[string][]string{"ids": {ticketID}}, &out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, &PushError{Code: out.Errors[0].Code, Message: out.Errors[0].Message}
	}
	r, ok := out.Data[ticketID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *ExpoClient) post(ctx context.Context, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("push transport: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("push read: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &PushError{Code: CodeTooManyRequests, Message: "rate limited", StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &PushError{Code: CodeProviderUnavailable, Message: strings.TrimSpace(string(raw)), StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &PushError{Code: CodeProviderUnavailable, Message: "invalid response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	return nil
}
