package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPProvider fetches pool records from an indexer API with failover between
// a primary and backup endpoints. While a backup is in use a background
// checker moves back to the primary once it is healthy again.
type HTTPProvider struct {
	httpClient     *http.Client
	primaryURL     string
	backupURLs     []string
	currentURL     string
	mu             sync.RWMutex
	healthChecker  *healthChecker
	failoverConfig FailoverConfig
}

// FailoverConfig controls failover behavior
type FailoverConfig struct {
	// MaxRetries is the number of times to retry a failed request on the current endpoint
	MaxRetries int
	// RetryDelay is the initial delay between retries (doubles with each retry)
	RetryDelay time.Duration
	// HealthCheckInterval is how often to check if the primary endpoint is back up
	HealthCheckInterval time.Duration
	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:          2,
		RetryDelay:          500 * time.Millisecond,
		HealthCheckInterval: 30 * time.Second,
		Timeout:             10 * time.Second,
	}
}

type healthChecker struct {
	provider  *HTTPProvider
	stopCh    chan struct{}
	stoppedCh chan struct{}
	isRunning bool
	mu        sync.Mutex
}

// NewHTTPProvider validates the endpoints and starts the health checker when
// backups are configured. Call Close to stop it.
func NewHTTPProvider(primaryURL string, backupURLs []string, config FailoverConfig) (*HTTPProvider, error) {
	if _, err := url.ParseRequestURI(primaryURL); err != nil {
		return nil, fmt.Errorf("invalid primary snapshot URL %q: %w", primaryURL, err)
	}

	validBackups := make([]string, 0, len(backupURLs))
	for _, u := range backupURLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Invalid backup URL, skipping")
			continue
		}
		validBackups = append(validBackups, strings.TrimRight(u, "/"))
	}

	p := &HTTPProvider{
		httpClient:     &http.Client{Timeout: config.Timeout},
		primaryURL:     strings.TrimRight(primaryURL, "/"),
		backupURLs:     validBackups,
		failoverConfig: config,
	}
	p.currentURL = p.primaryURL

	if len(validBackups) > 0 && config.HealthCheckInterval > 0 {
		p.healthChecker = &healthChecker{
			provider:  p,
			stopCh:    make(chan struct{}),
			stoppedCh: make(chan struct{}),
		}
		p.healthChecker.start()
	}

	log.Info().
		Str("primary", p.primaryURL).
		Int("backups", len(validBackups)).
		Msg("Snapshot HTTP provider initialized")
	return p, nil
}

func (h *healthChecker) start() {
	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		return
	}
	h.isRunning = true
	h.mu.Unlock()

	go func() {
		defer close(h.stoppedCh)
		ticker := time.NewTicker(h.provider.failoverConfig.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.checkAndRestore()
			}
		}
	}()
}

func (h *healthChecker) stop() {
	h.mu.Lock()
	if !h.isRunning {
		h.mu.Unlock()
		return
	}
	h.isRunning = false
	h.mu.Unlock()

	close(h.stopCh)
	<-h.stoppedCh
}

func (h *healthChecker) checkAndRestore() {
	if h.provider.CurrentURL() == h.provider.primaryURL {
		return
	}
	if h.provider.isEndpointHealthy(context.Background(), h.provider.primaryURL) {
		h.provider.mu.Lock()
		h.provider.currentURL = h.provider.primaryURL
		h.provider.mu.Unlock()
		log.Info().Str("url", h.provider.primaryURL).Msg("Restored primary endpoint")
	}
}

func (p *HTTPProvider) isEndpointHealthy(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", endpoint).Msg("Health check failed")
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

// CurrentURL returns the endpoint requests currently go to.
func (p *HTTPProvider) CurrentURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentURL
}

// failover switches to the next healthy endpoint after the current one.
func (p *HTTPProvider) failover(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := append([]string{p.primaryURL}, p.backupURLs...)
	current := -1
	for i, u := range all {
		if u == p.currentURL {
			current = i
			break
		}
	}
	for i := 1; i <= len(all); i++ {
		next := all[(current+i)%len(all)]
		if next == p.currentURL {
			continue
		}
		if p.isEndpointHealthy(ctx, next) {
			p.currentURL = next
			log.Warn().Str("url", next).Msg("Failover to endpoint")
			return true
		}
	}
	log.Warn().Str("url", p.currentURL).Msg("All endpoints unhealthy, staying on current")
	return false
}

// Close stops the health checker.
func (p *HTTPProvider) Close() {
	if p.healthChecker != nil {
		p.healthChecker.stop()
	}
}

func (p *HTTPProvider) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// doRequestWithFailover retries on the current endpoint with exponential
// backoff, then fails over once.
func (p *HTTPProvider) doRequestWithFailover(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	retryDelay := p.failoverConfig.RetryDelay

	for attempt := 0; attempt <= p.failoverConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}
		body, err := p.get(ctx, p.CurrentURL()+path)
		if err == nil {
			return body, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("Snapshot request failed")
	}

	if len(p.backupURLs) > 0 && p.failover(ctx) {
		body, err := p.get(ctx, p.CurrentURL()+path)
		if err != nil {
			return nil, fmt.Errorf("failover request failed: %w (original: %w)", err, lastErr)
		}
		return body, nil
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", p.failoverConfig.MaxRetries+1, lastErr)
}

// GetPools calls GET {base}/pools and filters the answer.
func (p *HTTPProvider) GetPools(ctx context.Context, q Query) ([]PoolRecord, error) {
	params := url.Values{}
	params.Set("chain", q.Chain)
	params.Set("protocolVersion", strconv.Itoa(q.ProtocolVersion))
	params.Set("considerPoolsWithHooks", strconv.FormatBool(q.ConsiderPoolsWithHooks))
	if len(q.PoolIDs) > 0 {
		params.Set("poolIds", strings.Join(sortedIDs(q.PoolIDs), ","))
	}

	body, err := p.doRequestWithFailover(ctx, "/pools?"+params.Encode())
	if err != nil {
		log.Error().Err(err).Str("chain", q.Chain).Msg("Snapshot request failed")
		return nil, fmt.Errorf("%w: %v", ErrSnapshotProvider, err)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse pools response: %v", ErrSnapshotProvider, err)
	}
	return Filter(doc.Pools, q), nil
}
