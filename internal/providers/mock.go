package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omnireach/core/platform/apperr"
)

// MockProviderName is the provider_name key the mock adapter registers
// under. It backs POST /v1/mock/whatsapp/inbound, a developer-only
// inbound simulation endpoint that skips signature verification and any
// outbound network call.
const MockProviderName = "mock"

type mockInbound struct {
	ExternalID       string `json:"external_id"`
	SenderExternalID string `json:"sender_external_id"`
	SenderName       string `json:"sender_name"`
	Text             string `json:"text"`
}

type mockStatus struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
}

// MockAdapter uses its own flat JSON wire shape (mockInbound) and never
// makes an outbound network call; SendText records the send in-memory and returns a
// synthetic provider message ID, so integration tests can exercise the
// full IngestInbound -> SendOutbound -> ReconcileStatus loop without a
// live gateway.
type MockAdapter struct {
	sent []MockSend
}

// MockSend is one outbound call captured by the mock adapter, inspected
// by tests that assert a message was actually dispatched.
type MockSend struct {
	To   string
	Text string
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (a *MockAdapter) Name() string { return MockProviderName }

func (a *MockAdapter) ParseInbound(ctx context.Context, raw []byte) (InboundMessage, error) {
	var payload mockInbound
	if err := json.Unmarshal(raw, &payload); err != nil {
		return InboundMessage{}, apperr.Validation("invalid mock inbound payload").WithDetails(err.Error())
	}
	if payload.SenderExternalID == "" {
		return InboundMessage{}, apperr.Validation("mock payload missing sender_external_id")
	}
	return InboundMessage{
		ExternalID:       payload.ExternalID,
		SenderExternalID: payload.SenderExternalID,
		SenderName:       payload.SenderName,
		Timestamp:        time.Now().UTC(),
		Text:             payload.Text,
		Raw:              raw,
	}, nil
}

func (a *MockAdapter) BuildMockPayload(senderExternalID, senderName, text string) []byte {
	payload := mockInbound{
		ExternalID:       fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		SenderExternalID: senderExternalID,
		SenderName:       senderName,
		Text:             text,
	}
	data, _ := json.Marshal(payload)
	return data
}

func (a *MockAdapter) CanSend() bool { return true }

func (a *MockAdapter) SendText(ctx context.Context, channelConfig map[string]string, to, text string) (string, error) {
	a.sent = append(a.sent, MockSend{To: to, Text: text})
	return fmt.Sprintf("mock-out-%d", time.Now().UnixNano()), nil
}

func (a *MockAdapter) ParseStatus(ctx context.Context, raw []byte) (StatusUpdate, error) {
	var payload mockStatus
	if err := json.Unmarshal(raw, &payload); err != nil {
		return StatusUpdate{}, apperr.Validation("invalid mock status payload").WithDetails(err.Error())
	}
	return StatusUpdate{ProviderMessageID: payload.ProviderMessageID, Status: payload.Status}, nil
}

// Sent returns every SendText call captured so far, for test assertions.
func (a *MockAdapter) Sent() []MockSend { return a.sent }
