// Package livingapps is a small client for the Living Apps record REST API.
package livingapps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pricewatch/config"
	"pricewatch/internal/metrics"
	"pricewatch/logger"
)

// Client sends requests to one Living Apps installation. It never retries.
type Client struct {
	baseURL        string
	http           *http.Client
	limiter        *rate.Limiter
	forwardCookies bool
	log            *logger.Log
}

// NewClient builds a client with the connection pool and rate limit from cfg.
func NewClient(cfg config.LivingAppsConfig, log *logger.Log) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
	}

	var limiter *rate.Limiter
	if rps := cfg.RateLimit.RequestsPerSecond; rps > 0 {
		burst := cfg.RateLimit.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	c := &Client{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		http:           &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter:        limiter,
		forwardCookies: cfg.ForwardCookies,
		log:            log,
	}

	log.WithComponent("livingapps_client").WithFields(logger.Fields{
		"base_url": c.baseURL,
		"timeout":  cfg.Timeout,
	}).Info("living apps client initialized")

	return c
}

// BaseURL returns the REST root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs one request and returns the response body of a 2xx response.
// A 404 is reported through the returned status with a nil error only when
// allowNotFound is set.
func (c *Client) do(ctx context.Context, collection, method, path string, payload any, allowNotFound bool) ([]byte, int, error) {
	log := c.log.WithComponent("livingapps_client").WithFields(logger.Fields{
		"collection": collection,
		"method":     method,
		"path":       path,
	})

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.forwardCookies {
		for _, cookie := range CookiesFromContext(ctx) {
			req.AddCookie(cookie)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest(c.log, collection, method, 0, time.Since(start))
		logger.RecordRequest(collection, 0, true)
		log.WithError(err).Warn("request failed")
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	metrics.ObserveRequest(c.log, collection, method, resp.StatusCode, elapsed)
	if err != nil {
		logger.RecordRequest(collection, len(data), true)
		return nil, resp.StatusCode, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	notFound := allowNotFound && resp.StatusCode == http.StatusNotFound
	logger.RecordRequest(collection, len(data), !ok && !notFound)
	logger.LogPerformanceEntry(log, "livingapps_client", "request", elapsed, logger.Fields{"status": resp.StatusCode})

	if notFound {
		return nil, resp.StatusCode, nil
	}
	if !ok {
		if metrics.IsRateLimited(resp.StatusCode, string(data)) {
			metrics.ReportRateLimited(c.log, collection, method, resp.StatusCode)
		}
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("request rejected")
		return nil, resp.StatusCode, apiErr
	}
	return data, resp.StatusCode, nil
}
