// Package bitmex is a broker.Exchange backed by the BitMEX REST API.
package bitmex

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rustyeddy/emacross/broker"
)

const (
	// LiveURL is the production REST endpoint
	LiveURL = "https://www.bitmex.com"
	// TestnetURL is the testnet REST endpoint
	TestnetURL = "https://testnet.bitmex.com"

	apiPrefix = "/api/v1"
)

// Client signs and sends REST requests. It is safe for concurrent use.
type Client struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
	limiter    *RateLimiter

	// expiry is how long a signed request stays valid
	expiry time.Duration
	now    func() time.Time
}

type Options struct {
	Timeout   time.Duration // per request, default 30s
	RateLimit time.Duration // minimum spacing between requests, default 1s; negative disables
	BaseURL   string        // overrides the live/testnet choice
}

// NewClient creates a client for the live or test network.
func NewClient(key, secret string, test bool, opts Options) *Client {
	baseURL := LiveURL
	if test {
		baseURL = TestnetURL
	}
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = time.Second
	}

	return &Client{
		baseURL:    baseURL,
		key:        key,
		secret:     secret,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    Every(opts.RateLimit),
		expiry:     60 * time.Second,
		now:        time.Now,
	}
}

// apiError is the error envelope BitMEX returns with non-2xx responses.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

// Sign computes the request signature: hex(HMAC-SHA256(secret, verb+path+expires+body)).
// path includes the query string.
func Sign(secret, verb, path string, expires int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(verb + path + strconv.FormatInt(expires, 10)))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// do sends one request to path (below /api/v1) and decodes the response into out.
// Every failure is a *broker.TransportError naming op.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &broker.TransportError{Op: op, Err: err}
	}

	p := apiPrefix + path
	if len(query) > 0 {
		p += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &broker.TransportError{Op: op, Err: fmt.Errorf("encode body: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, bytes.NewReader(payload))
	if err != nil {
		return &broker.TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		expires := c.now().Add(c.expiry).Unix()
		req.Header.Set("api-expires", strconv.FormatInt(expires, 10))
		req.Header.Set("api-key", c.key)
		req.Header.Set("api-signature", Sign(c.secret, method, p, expires, payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &broker.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &broker.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		msg := string(data)
		if json.Unmarshal(data, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		return &broker.TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &broker.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
