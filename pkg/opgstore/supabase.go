package opgstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dentage-research/platform/pkg/common/config"
	"github.com/dentage-research/platform/pkg/common/logger"
)

const (
	putAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

// SupabaseStore talks to a Supabase-compatible storage REST API. Objects are
// addressed as <bucket>/<key> and served from the public object endpoint.
type SupabaseStore struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
}

func NewSupabaseStore(cfg *config.Config) *SupabaseStore {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &SupabaseStore{
		baseURL: cfg.StorageBaseURL,
		apiKey:  cfg.StorageAPIKey,
		bucket:  cfg.StorageBucket,
		client:  &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}
}

func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, url.PathEscape(key))

	err := s.retry(ctx, putAttempts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("storage upload returned %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, url.PathEscape(key)), nil
}

func (s *SupabaseStore) Delete(ctx context.Context, key string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, url.PathEscape(key))

	return s.retry(ctx, putAttempts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		// A missing object is already gone; treat it as success.
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("storage delete returned %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
}

// retry executes fn with simple exponential backoff.
func (s *SupabaseStore) retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	delay := retryBackoff
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		logger.Log.WithError(err).WithField("attempt", i+1).Warn("storage request failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
