package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// CredentialSource supplies the bearer credential for one outbound call.
// Implementations may hand back the same long-lived key every time or mint a
// fresh short-lived one per call.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is the simple strategy: one long-lived key for every call.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	if k == "" {
		return "", fmt.Errorf("static key is empty: %w", ErrUnauthorized)
	}
	return string(k), nil
}

// Provisioner mints a brand-new zero-limit key from the provisioning
// credential immediately before each call. Minted keys are never stored; the
// previous one is simply abandoned.
type Provisioner struct {
	baseURL         string
	provisioningKey string
	httpClient      *http.Client
}

func NewProvisioner(baseURL, provisioningKey string, httpClient *http.Client) *Provisioner {
	return &Provisioner{
		baseURL:         baseURL,
		provisioningKey: provisioningKey,
		httpClient:      httpClient,
	}
}

func (p *Provisioner) APIKey(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"name":  "auto-key-" + uuid.NewString(),
		"limit": 0.0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal key request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/keys", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build key request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.provisioningKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mint credential: %v: %w", err, ErrUnauthorized)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read key response: %v: %w", err, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("mint credential status %d: %w", resp.StatusCode, ErrUnauthorized)
	}

	var minted struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &minted); err != nil {
		return "", fmt.Errorf("decode key response: %v: %w", err, ErrUnauthorized)
	}
	if minted.Key == "" {
		return "", fmt.Errorf("key response missing key: %w", ErrUnauthorized)
	}
	return minted.Key, nil
}
