// Package caption calls an optional external image-captioning provider
// (SPEC_FULL.md §4.4 "AI caption binding", §6 "Optional captioning
// provider"). The HTTP contract — POST an image reference plus a model
// identifier, receive a JSON caption string back — is grounded on the
// retrieved Ollama-style client, generalized from a fixed local model
// endpoint to a configurable provider URL. Failure is always non-fatal: the
// caller leaves the target column empty and continues.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider captions an image given either a URL or local bytes.
type Provider struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

// NewProvider builds a Provider targeting endpoint with the given model
// identifier. apiKey may be empty for providers that don't require one.
func NewProvider(endpoint, model, apiKey string) *Provider {
	return &Provider{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type request struct {
	Model    string `json:"model"`
	ImageURL string `json:"image_url,omitempty"`
	ImageB64 string `json:"image_base64,omitempty"`
}

type response struct {
	Caption string `json:"caption"`
}

// CaptionURL requests a caption for a remotely-hosted image.
func (p *Provider) CaptionURL(ctx context.Context, imageURL string) (string, error) {
	return p.call(ctx, request{Model: p.model, ImageURL: imageURL})
}

// CaptionBytes requests a caption for locally-read image bytes, base64
// encoded inline (small thumbnails/icons only; large assets should be
// uploaded and captioned by URL instead).
func (p *Provider) CaptionBytes(ctx context.Context, data []byte) (string, error) {
	return p.call(ctx, request{Model: p.model, ImageB64: encodeBase64(data)})
}

func (p *Provider) call(ctx context.Context, reqBody request) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode caption request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read caption response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("caption provider http %d: %s", resp.StatusCode, string(body))
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode caption response: %w", err)
	}
	return out.Caption, nil
}
