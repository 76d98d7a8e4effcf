package netprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
)

const defaultCheckTimeout = 3 * time.Second

var (
	ErrInvalidProbeURL      = errors.New("invalid probe url")
	ErrInvalidProbeInterval = errors.New("invalid probe interval")
)

// Probe polls a health URL and reports reachability.
type Probe struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
}

// New validates its inputs and returns a Probe.
func New(url string, interval time.Duration, httpClient *http.Client) (*Probe, error) {
	normalized := strings.TrimSpace(url)
	if !strings.HasPrefix(normalized, "http://") && !strings.HasPrefix(normalized, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProbeURL, url)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProbeInterval, interval)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCheckTimeout}
	}
	return &Probe{url: normalized, interval: interval, httpClient: httpClient}, nil
}

// Check performs one request. Any HTTP reply means the network is
// connected; a reply below 500 also means the wallet API is reachable.
func (probe *Probe) Check(ctx context.Context) offline.ReachabilityState {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.url, nil)
	if err != nil {
		return offline.ReachabilityState{}
	}
	response, err := probe.httpClient.Do(request)
	if err != nil {
		return offline.ReachabilityState{}
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4096))
	return offline.ReachabilityState{
		Connected:         true,
		InternetReachable: response.StatusCode < http.StatusInternalServerError,
	}
}

// Run checks immediately and then once per interval, sending each state to
// out until ctx is cancelled. It closes out on return.
func (probe *Probe) Run(ctx context.Context, out chan<- offline.ReachabilityState) {
	defer close(out)
	ticker := time.NewTicker(probe.interval)
	defer ticker.Stop()
	for {
		state := probe.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case out <- state:
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
