package walletapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
)

const testToken = "token-1"

func mustToken(test *testing.T) offline.AuthToken {
	test.Helper()
	token, err := offline.NewAuthToken(testToken)
	if err != nil {
		test.Fatalf("token: %v", err)
	}
	return token
}

func queuedTransfer(test *testing.T, id string) offline.OfflineTransaction {
	test.Helper()
	clientTransactionID, err := offline.NewClientTransactionID(id)
	if err != nil {
		test.Fatalf("id: %v", err)
	}
	amount, err := offline.NewAmountFromInt(100)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	transaction := offline.OfflineTransaction{
		ClientTransactionID: clientTransactionID,
		Type:                offline.TransactionTypeTransfer,
		ReceiverID:          "bob-id",
		ReceiverUsername:    "bob",
		Amount:              amount,
		ClientTimestamp:     1,
		Status:              offline.TransactionStatusPending,
	}
	transaction.Signature = offline.JoinSigner{}.Sign(transaction)
	return transaction
}

func TestNewClientValidatesBaseURL(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "ftp://wallet", "wallet.local"} {
		if _, err := NewClient(raw); !errors.Is(err, ErrInvalidBaseURL) {
			test.Fatalf("%q: expected ErrInvalidBaseURL, got %v", raw, err)
		}
	}
	client, err := NewClient("http://wallet.local/api/ ")
	if err != nil {
		test.Fatalf("client: %v", err)
	}
	if client.baseURL != "http://wallet.local/api" {
		test.Fatalf("expected trimmed base url, got %s", client.baseURL)
	}
}

func TestSyncOfflineTransactions(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name          string
		status        int
		body          string
		expectNetwork bool
		expectSynced  int
		expectFailed  int
	}{
		{
			name:         "success",
			status:       http.StatusOK,
			body:         `{"success":true,"message":"All transactions synced","newBalance":900,"syncedTransactions":[{"clientTransactionId":"X","serverTransactionId":"S1","type":"TRANSFER","amount":100,"newBalance":900}],"failures":[]}`,
			expectSynced: 1,
		},
		{
			name:         "rejected with per-entry outcomes",
			status:       http.StatusBadRequest,
			body:         `{"success":false,"message":"Partial sync","syncedTransactions":[],"failures":[{"clientTransactionId":"X","type":"TRANSFER","amount":100,"reason":"Insufficient wallet balance"}]}`,
			expectFailed: 1,
		},
		{
			name:          "rejected without outcomes",
			status:        http.StatusBadRequest,
			body:          `{"error":{"code":"invalid_payload","message":"Missing transactions"}}`,
			expectNetwork: true,
		},
		{
			name:          "server error",
			status:        http.StatusInternalServerError,
			body:          `oops`,
			expectNetwork: true,
		},
		{
			name:          "undecodable success",
			status:        http.StatusOK,
			body:          `{`,
			expectNetwork: true,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				if request.Method != http.MethodPost || request.URL.Path != "/api/offline/sync" {
					writer.WriteHeader(http.StatusNotFound)
					return
				}
				if request.Header.Get("Authorization") != "Bearer "+testToken {
					writer.WriteHeader(http.StatusUnauthorized)
					return
				}
				var payload syncRequest
				if err := json.NewDecoder(request.Body).Decode(&payload); err != nil || len(payload.Transactions) != 1 {
					writer.WriteHeader(http.StatusTeapot)
					return
				}
				writer.Header().Set("Content-Type", "application/json")
				writer.WriteHeader(testCase.status)
				_, _ = writer.Write([]byte(testCase.body))
			}))
			defer server.Close()

			client, err := NewClient(server.URL + "/api")
			if err != nil {
				test.Fatalf("client: %v", err)
			}
			response, err := client.SyncOfflineTransactions(context.Background(), mustToken(test), []offline.OfflineTransaction{queuedTransfer(test, "X")})
			if testCase.expectNetwork {
				if !errors.Is(err, offline.ErrNetwork) {
					test.Fatalf("expected network error, got %v", err)
				}
				return
			}
			if err != nil {
				test.Fatalf("sync: %v", err)
			}
			if len(response.SyncedTransactions) != testCase.expectSynced || len(response.Failures) != testCase.expectFailed {
				test.Fatalf("unexpected response %+v", response)
			}
		})
	}
}

func TestSyncOfflineTransactionsTransportFailure(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client, err := NewClient(baseURL, WithTimeout(time.Second))
	if err != nil {
		test.Fatalf("client: %v", err)
	}
	if _, err := client.SyncOfflineTransactions(context.Background(), mustToken(test), nil); !errors.Is(err, offline.ErrNetwork) {
		test.Fatalf("expected network error, got %v", err)
	}
}

func TestFetchBalance(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/balance" {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = writer.Write([]byte(`{"userId":"alice-id","balance":1250.5}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithHTTPClient(server.Client()))
	if err != nil {
		test.Fatalf("client: %v", err)
	}
	balance, err := client.FetchBalance(context.Background(), mustToken(test))
	if err != nil {
		test.Fatalf("fetch: %v", err)
	}
	if balance.String() != "1250.5" {
		test.Fatalf("expected 1250.5, got %s", balance)
	}

	missing, err := NewClient(server.URL + "/missing")
	if err != nil {
		test.Fatalf("client: %v", err)
	}
	if _, err := missing.FetchBalance(context.Background(), mustToken(test)); !errors.Is(err, offline.ErrNetwork) {
		test.Fatalf("expected network error for 404, got %v", err)
	}
}
