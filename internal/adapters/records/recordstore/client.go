package recordstore

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"medical-records-access/internal/platform/httpclient"
	"medical-records-access/internal/platform/logger"
)

// Client implementa records.Checker contra el store de historias clínicas:
//   GET /v1/patients/{patientID}/records/{recordID}
//   200 => existe, 404 => no existe, otro => error.
type Client struct {
	http *httpclient.Client
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	Transport http.RoundTripper
	Logger    logger.Logger
}

func New(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["X-Api-Key"] = cfg.APIKey
	}

	hc, err := httpclient.New(httpclient.Options{
		BaseURL:   cfg.BaseURL,
		Timeout:   timeout,
		Headers:   headers,
		Transport: cfg.Transport,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{http: hc}, nil
}

func (c *Client) RecordExists(ctx context.Context, patientID, recordID string) (bool, error) {
	path := "/v1/patients/" + url.PathEscape(patientID) + "/records/" + url.PathEscape(recordID)

	err := c.http.DoJSON(ctx, http.MethodGet, path, nil, nil, nil)
	if err == nil {
		return true, nil
	}
	if httpclient.StatusOf(err) == http.StatusNotFound {
		return false, nil
	}
	return false, err
}
