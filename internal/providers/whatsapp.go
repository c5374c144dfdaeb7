package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omnireach/core/platform/apperr"
	"github.com/omnireach/core/platform/config"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/phone"
)

// WhatsAppProviderName is the provider_name key the WhatsApp adapter
// registers under, matched against the :provider URL segment on the
// webhook routes.
const WhatsAppProviderName = "whatsapp"

// whatsappInbound is the GoWA-shaped webhook envelope for an inbound
// message. Real GoWA deployments post additional fields; only those
// the normalizer needs are modeled.
type whatsappInbound struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	PushName  string `json:"pushname"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// whatsappStatusCallback is the GoWA-shaped status webhook envelope.
type whatsappStatusCallback struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// whatsappSendRequest is GoWA's /send/message request body.
type whatsappSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// whatsappSendResponse is GoWA's /send/message response envelope.
type whatsappSendResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
	} `json:"results"`
}

// WhatsAppAdapter sends and receives through a GoWA-shaped gateway,
// generalized from the teacher's internal/whatsapp.Client: same
// request/response envelope and reconnect-on-connection-error retry
// pattern, minus device lifecycle management (out of the Adapter
// contract; device provisioning is an operator concern, not a message
// pipeline one).
type WhatsAppAdapter struct {
	defaultBaseURL  string
	defaultAPIKey   string
	defaultDeviceID string
	http            *http.Client
	log             *logger.Logger
}

func NewWhatsAppAdapter(cfg config.WhatsAppConfig, log *logger.Logger) *WhatsAppAdapter {
	return &WhatsAppAdapter{
		defaultBaseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		defaultAPIKey:   cfg.GetWhatsAppKey(),
		defaultDeviceID: cfg.GetWhatsAppDeviceID(),
		http:            &http.Client{Timeout: 10 * time.Second},
		log:             log,
	}
}

func (a *WhatsAppAdapter) Name() string { return WhatsAppProviderName }

func (a *WhatsAppAdapter) ParseInbound(ctx context.Context, raw []byte) (InboundMessage, error) {
	var payload whatsappInbound
	if err := json.Unmarshal(raw, &payload); err != nil {
		return InboundMessage{}, apperr.Validation("invalid whatsapp inbound payload").WithDetails(err.Error())
	}

	senderExternalID := strings.TrimSpace(payload.From)
	if senderExternalID == "" {
		return InboundMessage{}, apperr.Validation("whatsapp payload missing sender")
	}

	timestamp := time.Now().UTC()
	if payload.Timestamp > 0 {
		timestamp = time.Unix(payload.Timestamp, 0).UTC()
	}

	return InboundMessage{
		ExternalID:       payload.MessageID,
		SenderExternalID: phone.NormalizeE164(senderExternalID),
		SenderName:       payload.PushName,
		Timestamp:        timestamp,
		Text:             payload.Text,
		Raw:              raw,
	}, nil
}

func (a *WhatsAppAdapter) BuildMockPayload(senderExternalID, senderName, text string) []byte {
	payload := whatsappInbound{
		MessageID: fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		From:      senderExternalID,
		PushName:  senderName,
		Text:      text,
		Timestamp: time.Now().Unix(),
	}
	data, _ := json.Marshal(payload)
	return data
}

func (a *WhatsAppAdapter) CanSend() bool { return true }

func (a *WhatsAppAdapter) SendText(ctx context.Context, channelConfig map[string]string, to, text string) (string, error) {
	baseURL := a.resolve(channelConfig, "base_url", a.defaultBaseURL)
	apiKey := a.resolve(channelConfig, "api_key", a.defaultAPIKey)
	deviceID := a.resolve(channelConfig, "device_id", a.defaultDeviceID)
	if baseURL == "" {
		return "", apperr.TransientDependency("whatsapp gateway not configured", nil)
	}

	normalized := strings.TrimPrefix(phone.NormalizeE164(to), "+")
	providerMessageID, err := a.doSend(ctx, baseURL, apiKey, deviceID, normalized, text)
	if err != nil && isConnectionError(err) {
		a.log.Warn("whatsapp connection lost, retrying once", "deviceId", deviceID)
		time.Sleep(2 * time.Second)
		providerMessageID, err = a.doSend(ctx, baseURL, apiKey, deviceID, normalized, text)
	}
	if err != nil {
		return "", apperr.ProviderError("whatsapp send failed", err, true)
	}
	return providerMessageID, nil
}

func (a *WhatsAppAdapter) doSend(ctx context.Context, baseURL, apiKey, deviceID, phoneNumber, text string) (string, error) {
	body, err := json.Marshal(whatsappSendRequest{Phone: phoneNumber, Message: text})
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/send/message", baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	addWhatsAppHeaders(req, apiKey, deviceID)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("whatsapp gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed whatsappSendResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Results.MessageID != "" {
		return parsed.Results.MessageID, nil
	}
	return "", nil
}

func (a *WhatsAppAdapter) ParseStatus(ctx context.Context, raw []byte) (StatusUpdate, error) {
	var payload whatsappStatusCallback
	if err := json.Unmarshal(raw, &payload); err != nil {
		return StatusUpdate{}, apperr.Validation("invalid whatsapp status payload").WithDetails(err.Error())
	}
	return StatusUpdate{
		ProviderMessageID: payload.MessageID,
		Status:            mapWhatsAppStatus(payload.Status),
	}, nil
}

func (a *WhatsAppAdapter) resolve(channelConfig map[string]string, key, fallback string) string {
	if channelConfig != nil {
		if v, ok := channelConfig[key]; ok && v != "" {
			return v
		}
	}
	return fallback
}

// mapWhatsAppStatus maps GoWA's native status strings onto the
// sent|delivered|read|failed taxonomy. Unrecognized strings return ""
// so the caller can ignore and log per the status taxonomy rule.
func mapWhatsAppStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sent", "server_ack":
		return "sent"
	case "delivered", "delivery_ack":
		return "delivered"
	case "read", "played":
		return "read"
	case "failed", "error":
		return "failed"
	default:
		return ""
	}
}

func addWhatsAppHeaders(req *http.Request, apiKey, deviceID string) {
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(apiKey))
	}
	if deviceID != "" {
		req.Header.Set("X-Device-Id", deviceID)
	}
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey))
}

func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "client is not connected") || strings.Contains(msg, "context deadline exceeded")
}
