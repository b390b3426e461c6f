package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wazero-automation/convo-core/internal/store"
	"github.com/wazero-automation/convo-core/internal/telemetry"
)

// ProviderSender is the default Sender: a POST to a configurable
// WhatsApp Cloud API-style provider base URL, grounded in the retrieval
// pack's sendWhatsApp (build a {messaging_product, to, type, text} payload,
// POST with a bearer token, 10s timeout). The RPC server resolves the
// tenant's access token itself (§6: "the RPC owns provider-specific
// formatting"), so the caller only supplies tenantID/toPhone/text.
type ProviderSender struct {
	BaseURL string
	Store   *store.Store
	HTTP    *http.Client
}

// NewProviderSender builds a ProviderSender against baseURL, looking up each
// tenant's access token from st.
func NewProviderSender(baseURL string, st *store.Store) *ProviderSender {
	return &ProviderSender{BaseURL: baseURL, Store: st, HTTP: telemetry.InstrumentClient(&http.Client{Timeout: 10 * time.Second})}
}

// SendText implements Sender.
func (p *ProviderSender) SendText(ctx context.Context, tenantID, toPhone, text string) error {
	tenant, err := p.Store.TenantByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	if tenant.PhoneNumberID == "" {
		return errors.New("tenant has no phone_number_id")
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                toPhone,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/v18.0/%s/messages", p.BaseURL, tenant.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tenant.AccessToken)

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider send failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}
