// Package publish shares finished designs: it formats the public board post
// and uploads the design document to the Pinata pinning service.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/version"
)

// PinResult is Pinata's answer to a successful pin.
type PinResult struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// APIError is a non-2xx answer from Pinata.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pinata error (%d): %s", e.StatusCode, e.Body)
}

// PinataClient uploads JSON documents to Pinata.
type PinataClient struct {
	jwt        string
	apiURL     string
	gatewayURL string
	client     *http.Client
	log        *logging.Logger
}

// NewPinataClient creates a client from cfg. A nil cfg returns nil.
func NewPinataClient(cfg *config.PinataConfig, log *logging.Logger) *PinataClient {
	if cfg == nil {
		return nil
	}
	return &PinataClient{
		jwt:        cfg.JWT,
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		gatewayURL: strings.TrimSuffix(cfg.GatewayURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.Sub("pinata"),
	}
}

// PinJSON pins content under the metadata name and returns the pin.
func (p *PinataClient) PinJSON(ctx context.Context, name string, content any) (*PinResult, error) {
	body := map[string]any{
		"pinataContent":  content,
		"pinataMetadata": map[string]any{"name": name},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiURL+"/pinning/pinJSONToIPFS", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result PinResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.IpfsHash == "" {
		return nil, fmt.Errorf("pinata response has no IpfsHash")
	}

	p.log.Info().Str("name", name).Str("hash", result.IpfsHash).Msg("pinned design")
	return &result, nil
}

// URL returns the gateway link for an IPFS hash.
func (p *PinataClient) URL(hash string) string {
	return p.gatewayURL + "/ipfs/" + hash
}
