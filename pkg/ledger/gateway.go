package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gowebpki/jcs"
)

// GatewayClient talks to the chain gateway over HTTP. The gateway wraps
// the actual chain RPC and exposes a stable JSON contract:
//
//	POST {base}/v1/entries             submit a signed anchor payload
//	GET  {base}/v1/entries/{fp}        read the entry for a fingerprint
//
// Submissions are signed with an Ed25519 submission key over the JCS
// canonical form of the payload, so the gateway can verify the submitter
// without replaying the signature scheme of the chain itself.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
	signingKey ed25519.PrivateKey
}

// GatewayConfig configures a GatewayClient.
type GatewayConfig struct {
	BaseURL    string
	SigningKey ed25519.PrivateKey
	Timeout    time.Duration // per-call; defaults to 30s
}

// NewGatewayClient creates a ledger client for the given gateway.
func NewGatewayClient(cfg GatewayConfig) (*GatewayClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ledger: gateway base URL required")
	}
	if len(cfg.SigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ledger: invalid submission key size %d", len(cfg.SigningKey))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		signingKey: cfg.SigningKey,
	}, nil
}

type submitRequest struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	PublicKey string          `json:"public_key"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

type gatewayError struct {
	Detail string `json:"detail"`
}

// Submit signs and posts one anchor payload. A transport failure maps to
// ErrUnavailable; a 4xx gateway response maps to ErrRejected with the
// gateway's detail preserved.
func (c *GatewayClient) Submit(ctx context.Context, sub Submission) (string, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal submission: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ledger: canonicalize submission: %w", err)
	}

	sig := ed25519.Sign(c.signingKey, canonical)
	body, err := json.Marshal(submitRequest{
		Payload:   canonical,
		Signature: hex.EncodeToString(sig),
		PublicKey: hex.EncodeToString(c.signingKey.Public().(ed25519.PublicKey)),
	})
	if err != nil {
		return "", fmt.Errorf("ledger: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/entries", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted:
		var sr submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		if sr.TxRef == "" {
			return "", fmt.Errorf("%w: gateway returned empty tx_ref", ErrRejected)
		}
		return sr.TxRef, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: %s", ErrRejected, readDetail(resp.Body, resp.StatusCode))
	default:
		return "", fmt.Errorf("%w: gateway status %d", ErrUnavailable, resp.StatusCode)
	}
}

// Read looks up the entry for a fingerprint. A 404 maps to ErrNotFound;
// everything else non-2xx maps to ErrUnavailable. Read never mutates.
func (c *GatewayClient) Read(ctx context.Context, fp string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/entries/"+fp, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var entry Entry
		if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
			return nil, fmt.Errorf("%w: decode entry: %v", ErrUnavailable, err)
		}
		return &entry, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: gateway status %d", ErrUnavailable, resp.StatusCode)
	}
}

func readDetail(r io.Reader, status int) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return fmt.Sprintf("gateway status %d", status)
	}
	var ge gatewayError
	if err := json.Unmarshal(data, &ge); err == nil && ge.Detail != "" {
		return ge.Detail
	}
	return fmt.Sprintf("gateway status %d: %s", status, string(data))
}
