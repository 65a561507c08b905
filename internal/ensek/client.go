package ensek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"enharness/internal/domain"
)

const (
	loginPath  = "/ENSEK/login"
	resetPath  = "/ENSEK/reset"
	energyPath = "/ENSEK/energy"
	ordersPath = "/ENSEK/orders"
	buyPath    = "/ENSEK/buy"
)

// AuthResponse is the body of successful login and reset calls.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	Message     string `json:"message"`
}

// MessageResponse is the body of update and buy confirmations.
type MessageResponse struct {
	Message string `json:"message"`
}

// Response is the captured outcome of one remote call. Checks consume
// the status, timing and body separately, so all three are kept.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Duration    time.Duration
}

// JSON reports whether the response declared a JSON content type.
func (r *Response) JSON() bool {
	return strings.Contains(r.ContentType, "application/json")
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *zap.Logger
	logRequests  bool
	logResponses bool

	mu     sync.RWMutex
	bearer string
}

// SetBearer installs the token attached to subsequent authenticated
// calls. Login never sends it; Reset overrides it per call.
func (c *Client) SetBearer(raw string) {
	c.mu.Lock()
	c.bearer = raw
	c.mu.Unlock()
}

func (c *Client) heldBearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearer
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger, logRequests, logResponses bool) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
		logRequests:  logRequests,
		logResponses: logResponses,
	}
}

func (c *Client) Login(ctx context.Context, username, password string) (*Response, error) {
	body, err := credentialsBody(username, password)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, loginPath, body, "", false)
}

// Reset wipes the remote test data. The currently held token must be
// attached as a bearer credential.
func (c *Client) Reset(ctx context.Context, username, password, bearer string) (*Response, error) {
	body, err := credentialsBody(username, password)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, resetPath, body, bearer, false)
}

func (c *Client) Energy(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, energyPath, "", "", true)
}

func (c *Client) ListOrders(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, ordersPath, "", "", true)
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Response, error) {
	return c.do(ctx, http.MethodGet, ordersPath+"/"+url.PathEscape(orderID), "", "", true)
}

func (c *Client) UpdateOrder(ctx context.Context, orderID string, quantity, energyID int) (*Response, error) {
	path := fmt.Sprintf("%s/%s?quantity=%d&energy_id=%d", ordersPath, url.PathEscape(orderID), quantity, energyID)
	return c.do(ctx, http.MethodPut, path, "", "", false)
}

func (c *Client) DeleteOrder(ctx context.Context, orderID string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, ordersPath+"/"+url.PathEscape(orderID), "", "", false)
}

func (c *Client) Buy(ctx context.Context, energyType domain.EnergyType, quantity int) (*Response, error) {
	path := fmt.Sprintf("%s/%d/%d", buyPath, int(energyType), quantity)
	return c.do(ctx, http.MethodPut, path, "", "", false)
}

// do issues one request. Idempotent GETs get a single retry on
// transport failure; everything else fails on the first error.
func (c *Client) do(ctx context.Context, method, path, body, bearer string, retryable bool) (*Response, error) {
	resp, err := c.once(ctx, method, path, body, bearer)
	if err != nil && retryable && ctx.Err() == nil {
		c.logger.Warn("retrying idempotent request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		resp, err = c.once(ctx, method, path, body, bearer)
	}
	return resp, err
}

func (c *Client) once(ctx context.Context, method, path, body, bearer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, &domain.TransportError{Op: method + " " + path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" && path != loginPath {
		bearer = c.heldBearer()
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, &domain.TransportError{Op: method + " " + path, Timeout: isTimeout(err), Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: method + " " + path, Timeout: isTimeout(err), Err: err}
	}

	if c.logRequests {
		c.logger.Info("request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", httpResp.StatusCode),
			zap.Duration("duration", duration))
	}
	if c.logResponses && len(respBody) > 0 {
		c.logger.Debug("response body",
			zap.String("path", path),
			zap.ByteString("body", respBody))
	}

	return &Response{
		StatusCode:  httpResp.StatusCode,
		Body:        respBody,
		ContentType: httpResp.Header.Get("Content-Type"),
		Duration:    duration,
	}, nil
}

func credentialsBody(username, password string) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
