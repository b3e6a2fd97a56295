package odin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medical-records-access/internal/platform/httpclient"
	"medical-records-access/internal/platform/logger"
)

var (
	ErrOdinNotConfigured = errors.New("odin client not configured")
	ErrOdinUnauthorized  = errors.New("odin unauthorized")
	ErrOdinUpstream      = errors.New("odin upstream error")
)

const verifyPath = "/v1/tokens/verify"

// Config del cliente Odin (identity provider remoto).
type Config struct {
	BaseURL string
	APIKey  string

	// Si está vacío, se usa "X-Api-Key".
	APIKeyHeader string

	Timeout time.Duration

	// Transport opcional (tests).
	Transport http.RoundTripper
	Logger    logger.Logger
}

type Client struct {
	http       *httpclient.Client
	configured bool
}

func NewClient(cfg Config) (*Client, error) {
	h := strings.TrimSpace(cfg.APIKeyHeader)
	if h == "" {
		h = "X-Api-Key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	apiKey := strings.TrimSpace(cfg.APIKey)

	hc, err := httpclient.New(httpclient.Options{
		BaseURL:   baseURL,
		Timeout:   timeout,
		Headers:   map[string]string{h: apiKey},
		Transport: cfg.Transport,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{http: hc, configured: baseURL != "" && apiKey != ""}, nil
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.configured
}

// Identity es la respuesta cruda de Odin; el mapeo a auth.Claims lo hace Verifier.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// VerifyToken llama a Odin para verificar un token. 401/403 => ErrOdinUnauthorized.
func (c *Client) VerifyToken(ctx context.Context, token string) (Identity, error) {
	if !c.IsConfigured() {
		return Identity{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrOdinUnauthorized
	}

	var out Identity
	err := c.http.DoJSON(ctx, http.MethodPost, verifyPath,
		// Algunos IAM esperan el token en Authorization, aunque también vaya en body.
		map[string]string{"Authorization": "Bearer " + token},
		map[string]string{"token": token},
		&out,
	)
	if err != nil {
		switch httpclient.StatusOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return Identity{}, ErrOdinUnauthorized
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrOdinUpstream, err)
		}
	}
	return out, nil
}
