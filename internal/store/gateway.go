package store

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

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/mnemoslabs/mnemos/internal/codec"
)

// GatewayStore talks to an HTTP content gateway. The gateway assigns
// addresses, but the core never trusts them blindly: the referencing
// envelope records a content hash the core computed itself, and reads
// are integrity-checked against the requested address here.
//
// Transient failures (timeouts, 429, 5xx) are retried with exponential
// backoff. A 404 is permanent and returned as ErrNotFound immediately.
type GatewayStore struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	retries uint64
}

// GatewayOpts tune the client. Zero values get sane defaults.
type GatewayOpts struct {
	Timeout    time.Duration
	RPS        float64
	Burst      int
	MaxRetries uint64
}

// NewGatewayStore builds a client for the gateway at baseURL.
func NewGatewayStore(baseURL string, opts GatewayOpts) (*GatewayStore, error) {
	if baseURL == "" {
		return nil, errors.New("store: gateway URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 4
	}
	return &GatewayStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		retries: opts.MaxRetries,
	}, nil
}

type putResponse struct {
	Address string `json:"address"`
}

// Put uploads data and returns the gateway-assigned address.
func (s *GatewayStore) Put(ctx context.Context, data []byte) (string, error) {
	var address string
	err := s.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/objects", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if err := classifyStatus(resp.StatusCode); err != nil {
			return err
		}
		var out putResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("store: decoding gateway response: %w", err))
		}
		if out.Address == "" {
			return backoff.Permanent(errors.New("store: gateway returned empty address"))
		}
		address = out.Address
		return nil
	})
	return address, err
}

// Get downloads the object at address and verifies the bytes hash back
// to the address before returning them.
func (s *GatewayStore) Get(ctx context.Context, address string) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/objects/"+address, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if err := classifyStatus(resp.StatusCode); err != nil {
			return err
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading gateway body: %v", ErrTransient, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if codec.Hash(data).Hex() != address {
		return nil, fmt.Errorf("store: gateway returned content not matching address %s", address)
	}
	return data, nil
}

func (s *GatewayStore) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries), ctx)
	err := backoff.Retry(wrapped, policy)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

// classifyStatus maps HTTP statuses onto the error taxonomy: 404 is
// permanent NotFound, 429 and 5xx are transient, anything else
// non-2xx is a permanent protocol error.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return backoff.Permanent(ErrNotFound)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: gateway status %d", ErrTransient, code)
	default:
		return backoff.Permanent(fmt.Errorf("store: gateway status %d", code))
	}
}
