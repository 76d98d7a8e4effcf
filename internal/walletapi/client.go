package walletapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
)

const (
	syncPath    = "/offline/sync"
	balancePath = "/balance"

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
)

var ErrInvalidBaseURL = errors.New("invalid wallet api base url")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		if timeout > 0 {
			client.timeout = timeout
		}
	}
}

// Client talks to the wallet API over HTTP. It implements
// offline.WalletAPI and offline.BalanceFetcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient validates baseURL and returns a Client.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	normalized := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasPrefix(normalized, "http://") && !strings.HasPrefix(normalized, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	client := &Client{
		baseURL:    normalized,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

type syncRequest struct {
	Transactions []offline.OfflineTransaction `json:"transactions"`
}

type balanceResponse struct {
	Balance offline.Balance `json:"balance"`
}

// SyncOfflineTransactions submits a batch. A non-2xx reply that still
// carries per-entry outcomes is returned as a response, not an error.
func (client *Client) SyncOfflineTransactions(ctx context.Context, token offline.AuthToken, transactions []offline.OfflineTransaction) (offline.SyncResponse, error) {
	payload, err := json.Marshal(syncRequest{Transactions: transactions})
	if err != nil {
		return offline.SyncResponse{}, fmt.Errorf("encode sync request: %w", err)
	}
	status, body, err := client.do(ctx, http.MethodPost, syncPath, token, payload)
	if err != nil {
		return offline.SyncResponse{}, offline.NewNetworkError(err)
	}

	var response offline.SyncResponse
	decodeErr := json.Unmarshal(body, &response)
	if isSuccessStatus(status) {
		if decodeErr != nil {
			return offline.SyncResponse{}, offline.NewNetworkError(fmt.Errorf("decode sync response: %w", decodeErr))
		}
		return response, nil
	}
	if decodeErr == nil && (len(response.SyncedTransactions) > 0 || len(response.Failures) > 0) {
		return response, nil
	}
	return offline.SyncResponse{}, offline.NewNetworkError(fmt.Errorf("sync rejected with status %d", status))
}

// FetchBalance returns the authoritative wallet balance.
func (client *Client) FetchBalance(ctx context.Context, token offline.AuthToken) (offline.Balance, error) {
	status, body, err := client.do(ctx, http.MethodGet, balancePath, token, nil)
	if err != nil {
		return offline.Balance{}, offline.NewNetworkError(err)
	}
	if !isSuccessStatus(status) {
		return offline.Balance{}, offline.NewNetworkError(fmt.Errorf("balance request failed with status %d", status))
	}
	var response balanceResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return offline.Balance{}, offline.NewNetworkError(fmt.Errorf("decode balance response: %w", err))
	}
	return response.Balance, nil
}

func (client *Client) do(ctx context.Context, method string, path string, token offline.AuthToken, payload []byte) (int, []byte, error) {
	requestCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(requestCtx, method, client.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+token.String())

	response, err := client.httpClient.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return response.StatusCode, raw, nil
}

func isSuccessStatus(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
