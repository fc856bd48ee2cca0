// Package upstream is the REST client for the marketplace API: collection
// sync, catalog batch lookups, promo validation, order/payment creation and
// the post-payment confirmation endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_storefront/internal/domain"
)

// Collection names a synced key-quantity collection on the marketplace.
type Collection string

const (
	CollectionCart     Collection = "cart"
	CollectionWishlist Collection = "wishlist"
)

const (
	ProviderCard   = "card"
	ProviderCrypto = "crypto"
)

type Config struct {
	// BaseURL is the marketplace API root.
	BaseURL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "marketplace-api",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		breaker:    breaker,
	}
}

type itemsResponse struct {
	Items     []domain.Line `json:"items"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// FetchCollection returns the authoritative server copy for the credential's
// owner.
func (c *Client) FetchCollection(ctx context.Context, cred string, col Collection) (*domain.Snapshot, error) {
	var resp itemsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/%s", col), cred, nil, &resp); err != nil {
		return nil, err
	}
	return &domain.Snapshot{Items: resp.Items, UpdatedAt: resp.UpdatedAt}, nil
}

// ReplaceCollection replaces the whole stored collection and returns the
// server's resulting items.
func (c *Client) ReplaceCollection(ctx context.Context, cred string, col Collection, items []domain.Line) ([]domain.Line, error) {
	var resp itemsResponse
	body := map[string]any{"items": items}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/%s", col), cred, body, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// PutLine replicates a single line. Callers fall back to ReplaceCollection
// when this is unavailable or fails.
func (c *Client) PutLine(ctx context.Context, cred string, col Collection, id string, qty int) ([]domain.Line, error) {
	var resp itemsResponse
	body := map[string]any{"qty": qty}
	path := fmt.Sprintf("/api/%s/%s", col, url.PathEscape(id))
	if err := c.do(ctx, http.MethodPut, path, cred, body, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// BatchProducts resolves existence and pricing for a batch of ids. Absent ids
// are omitted from the response, not errored.
func (c *Client) BatchProducts(ctx context.Context, ids []string) ([]domain.ProductRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp struct {
		Items []domain.ProductRef `json:"items"`
	}
	path := "/api/products?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ListingOwner resolves the shop and seller behind a listing.
func (c *Client) ListingOwner(ctx context.Context, productID string) (shopID, ownerID string, err error) {
	var resp struct {
		ShopID  string `json:"shopId"`
		OwnerID string `json:"ownerId"`
	}
	path := fmt.Sprintf("/api/products/%s/owner", url.PathEscape(productID))
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return "", "", err
	}
	return resp.ShopID, resp.OwnerID, nil
}

// Me resolves the user behind a credential.
func (c *Client) Me(ctx context.Context, cred string) (string, error) {
	var resp struct {
		UserID string `json:"userId"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/me", cred, nil, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// ValidatePromo checks a locally cached code against the server and returns
// the authoritative discount in minor units.
func (c *Client) ValidatePromo(ctx context.Context, cred, productID, code string) (int64, error) {
	var resp struct {
		Discount int64 `json:"discount"`
	}
	body := map[string]any{"productId": productID, "code": code}
	if err := c.do(ctx, http.MethodPost, "/api/promos/validate", cred, body, &resp); err != nil {
		return 0, err
	}
	return resp.Discount, nil
}

func (c *Client) CreateFreeOrder(ctx context.Context, cred string, items []domain.Line) (string, error) {
	var resp struct {
		OrderID string `json:"orderId"`
	}
	body := map[string]any{"items": items}
	if err := c.do(ctx, http.MethodPost, "/api/orders/free", cred, body, &resp); err != nil {
		return "", err
	}
	return resp.OrderID, nil
}

func (c *Client) CreateCardPayment(ctx context.Context, cred string, items []domain.Line, promos map[string]string) (string, error) {
	var resp struct {
		RedirectURL string `json:"redirectUrl"`
	}
	body := map[string]any{"items": items, "promos": promos}
	if err := c.do(ctx, http.MethodPost, "/api/payments/card", cred, body, &resp); err != nil {
		return "", err
	}
	return resp.RedirectURL, nil
}

func (c *Client) CreateCryptoPayment(ctx context.Context, cred string, items []domain.Line, promos map[string]string) (*domain.CryptoPaymentRef, error) {
	var resp domain.CryptoPaymentRef
	body := map[string]any{"items": items, "promos": promos}
	if err := c.do(ctx, http.MethodPost, "/api/payments/crypto", cred, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfirmPayment is idempotent on the server and safe to repeat.
func (c *Client) ConfirmPayment(ctx context.Context, cred, provider, reference string) error {
	body := map[string]any{"reference": reference}
	path := fmt.Sprintf("/api/payments/%s/confirm", url.PathEscape(provider))
	return c.do(ctx, http.MethodPost, path, cred, body, nil)
}

// RefreshSettlement nudges server-side settlement detection for an
// asynchronously settled payment.
func (c *Client) RefreshSettlement(ctx context.Context, cred, reference string) error {
	body := map[string]any{"reference": reference}
	return c.do(ctx, http.MethodPost, "/api/payments/crypto/refresh", cred, body, nil)
}

// CheckAccess reports whether the order's entitlement has been granted.
func (c *Client) CheckAccess(ctx context.Context, cred, orderID string) (bool, error) {
	var resp struct {
		Granted bool `json:"granted"`
	}
	path := fmt.Sprintf("/api/orders/%s/access", url.PathEscape(orderID))
	if err := c.do(ctx, http.MethodGet, path, cred, nil, &resp); err != nil {
		return false, err
	}
	return resp.Granted, nil
}

// ExchangeSSO returns the single-sign-on redirect target for the credential.
func (c *Client) ExchangeSSO(ctx context.Context, cred string) (string, error) {
	var resp struct {
		RedirectURL string `json:"redirectUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/sso", cred, nil, &resp); err != nil {
		return "", err
	}
	return resp.RedirectURL, nil
}

func (c *Client) do(ctx context.Context, method, path, cred string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}

	var status int
	data, err := c.breaker.Execute(func() ([]byte, error) {
		resp, errDo := c.httpClient.Do(req)
		if errDo != nil {
			return nil, errDo
		}
		defer resp.Body.Close()

		body, errRead := io.ReadAll(resp.Body)
		if errRead != nil {
			return nil, errRead
		}

		status = resp.StatusCode
		// 5xx counts against the breaker; 4xx is the caller's problem.
		if resp.StatusCode >= http.StatusInternalServerError {
			return body, fmt.Errorf("upstream %s %s: status %d", method, path, resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		// The generic error above is breaker accounting; the caller still
		// gets whatever message the provider put on a 5xx body.
		if status >= http.StatusInternalServerError {
			return newProviderError(status, data)
		}
		return err
	}

	if status == http.StatusUnauthorized {
		return domain.ErrAuthRequired
	}
	if status >= 400 {
		return newProviderError(status, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response failed: %w", err)
		}
	}
	return nil
}
