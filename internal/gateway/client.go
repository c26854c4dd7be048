package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"aicompare/internal/config"
	"aicompare/internal/metrics"
)

// Client performs completion calls against the aggregator API. Every call
// acquires its own credential from the CredentialSource, so concurrent
// workflow runs never share key state.
type Client struct {
	cfg        config.RouterConfig
	creds      CredentialSource
	httpClient *http.Client
	siteURL    string
	appTitle   string
}

// New builds a gateway client, selecting the credential strategy from the
// configured key mode.
func New(cfg config.RouterConfig, siteURL, appTitle string) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}

	var creds CredentialSource
	if cfg.KeyMode == config.KeyModeProvision {
		creds = NewProvisioner(cfg.BaseURL, cfg.ProvisioningKey, httpClient)
	} else {
		creds = StaticKey(cfg.APIKey)
	}

	return &Client{
		cfg:        cfg,
		creds:      creds,
		httpClient: httpClient,
		siteURL:    siteURL,
		appTitle:   appTitle,
	}
}

// Complete sends the prompt to the model behind the alias and returns the
// first completion's text.
func (c *Client) Complete(ctx context.Context, alias, prompt string) (string, error) {
	model, ok := c.cfg.Resolve(alias)
	if !ok {
		return "", fmt.Errorf("unknown model alias %q: %w", alias, ErrBadRequest)
	}
	return c.complete(ctx, model, prompt)
}

// Compare sends the prompt to the designated comparison model.
func (c *Client) Compare(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, c.cfg.ComparisonModel, prompt)
}

func (c *Client) complete(ctx context.Context, model, prompt string) (string, error) {
	key, err := c.creds.APIKey(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", c.siteURL)
	req.Header.Set("X-Title", c.appTitle)

	m := metrics.Global()
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	m.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		m.UpstreamRequests.WithLabelValues("transport_error").Inc()
		return "", &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		m.UpstreamRequests.WithLabelValues("transport_error").Inc()
		return "", &UpstreamError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("model", model).Msg("aggregator call failed")
		return "", c.statusError(resp.StatusCode, body)
	}

	text, err := parseCompletion(body)
	if err != nil {
		m.UpstreamRequests.WithLabelValues("bad_body").Inc()
		return "", err
	}
	m.UpstreamRequests.WithLabelValues("ok").Inc()
	return text, nil
}

func (c *Client) statusError(status int, body []byte) error {
	m := metrics.Global()
	switch status {
	case http.StatusUnauthorized:
		m.UpstreamRequests.WithLabelValues("unauthorized").Inc()
		return fmt.Errorf("status %d: %w", status, ErrUnauthorized)
	case http.StatusTooManyRequests:
		m.UpstreamRequests.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("status %d: %w", status, ErrRateLimited)
	case http.StatusBadRequest:
		m.UpstreamRequests.WithLabelValues("bad_request").Inc()
		return fmt.Errorf("status %d: %w", status, ErrBadRequest)
	default:
		m.UpstreamRequests.WithLabelValues("upstream_error").Inc()
		return &UpstreamError{Status: status, Body: string(body)}
	}
}

func parseCompletion(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("decode completion response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Err: fmt.Errorf("empty choices in completion response")}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &UpstreamError{Err: fmt.Errorf("missing message content in completion response")}
	}
	return content, nil
}
