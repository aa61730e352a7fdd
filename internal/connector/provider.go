package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	healthPath       = "/health"
	transactionsPath = "/transactions"
)

// ProviderOptions parameterise an HTTP provider connector.
type ProviderOptions struct {
	Name      string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Provider fetches normalized transactions from a provider REST API.
type Provider struct {
	opts    ProviderOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewProvider constructs an HTTP provider connector.
func NewProvider(opts ProviderOptions, logger zerolog.Logger) *Provider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Provider{
		opts:    opts,
		logger:  logger.With().Str("component", "connector").Str("source", opts.Name).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// TestConnection probes the provider health endpoint.
func (p *Provider) TestConnection(ctx context.Context) ConnectionStatus {
	if p.baseURL == "" {
		return ConnectionStatus{Success: false, Error: "base URL not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+healthPath, nil)
	if err != nil {
		return ConnectionStatus{Success: false, Error: err.Error()}
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return ConnectionStatus{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return ConnectionStatus{Success: false, Error: parseHTTPError(p.opts.Name, resp.StatusCode, payload).Error()}
	}
	return ConnectionStatus{Success: true}
}

// FetchAllTransactions retrieves normalized transactions for a time range.
func (p *Provider) FetchAllTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	if p.baseURL == "" {
		return nil, errors.New("base URL not configured")
	}
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}

	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	endpoint := p.baseURL + transactionsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(p.opts.Name, resp.StatusCode, payload)
	}

	var body transactionsResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.opts.Name, err)
	}

	records := body.Data
	for i := range records {
		if records[i].Source == "" {
			records[i].Source = p.opts.Name
		}
	}

	p.logger.Debug().Int("records", len(records)).
		Time("from", from).Time("to", to).
		Msg("fetched transactions")

	return records, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if p.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "venuewatch/1.0")
	}
}

type transactionsResponse struct {
	Success bool          `json:"success"`
	Data    []Transaction `json:"data"`
	Error   string        `json:"error,omitempty"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Error       string `json:"error"`
}

func parseHTTPError(source string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Error)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", source, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", source, status)
}

var _ Connector = (*Provider)(nil)
