package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dtgportal/portalsync/internal/portal"
	"github.com/shopspring/decimal"
)

var ErrQuoteNotFound = errors.New("quote not found")

type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "quote not found"
	}
	return fmt.Sprintf("quote not found: %s", e.Resource)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrQuoteNotFound
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// TokenProvider supplies the bearer token per request so rotation never
// requires rebuilding the client.
type TokenProvider func(ctx context.Context) (string, error)

type AccountQuery struct {
	AccountName string
	Kind        portal.Kind
	Page        int
	Search      string
}

type QuoteEditLine struct {
	PartNumber string  `json:"name"`
	Name       string  `json:"description"`
	Quantity   int     `json:"qty"`
	UnitPrice  float64 `json:"price"`
}

// QuoteEditResult distinguishes a backend that echoed the canonical updated
// quote from one that only acknowledged the write.
type QuoteEditResult struct {
	Adopted bool
	Quote   portal.ListingEntry
}

type SubmissionItem struct {
	ID         string `json:"id"`
	PartNumber string `json:"partnumber"`
	Name       string `json:"name"`
	Quantity   int    `json:"qty"`
	UnitPrice  string `json:"unit_price"`
	LineTotal  string `json:"line_total"`
}

type QuoteSubmission struct {
	UserID string
	Items  []portal.CartLineEntry
}

type Address struct {
	Line1   string `json:"address_line1" validate:"required"`
	Line2   string `json:"address_line2,omitempty"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip" validate:"required"`
	Country string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// Client is the remote portal backend surface. The HTTP implementation below
// is the production one; tests substitute fakes.
type Client interface {
	Products(ctx context.Context) ([]portal.Product, error)
	AccountData(ctx context.Context, query AccountQuery) (portal.AccountPage, error)
	EditQuote(ctx context.Context, quoteID string, lines []QuoteEditLine) (QuoteEditResult, error)
	SubmitQuote(ctx context.Context, submission QuoteSubmission) (string, error)
	CopyOrder(ctx context.Context, orderID string) error
	QuotePDF(ctx context.Context, quoteID string) ([]byte, error)
	FetchAddress(ctx context.Context, userID string) (Address, error)
	UpdateAddress(ctx context.Context, userID string, address Address) error
}

type HTTPClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Now           func() time.Time
}

type HTTPClient struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	now           func() time.Time
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080/api"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &HTTPClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		now:           now,
	}
}

func (c *HTTPClient) Products(ctx context.Context) ([]portal.Product, error) {
	var payload map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/products", nil, &payload); err != nil {
		return nil, err
	}
	return portal.NormalizeProducts(payload), nil
}

func (c *HTTPClient) AccountData(ctx context.Context, query AccountQuery) (portal.AccountPage, error) {
	if !query.Kind.Valid() {
		return portal.AccountPage{}, fmt.Errorf("invalid listing kind %q", query.Kind)
	}
	q := url.Values{}
	q.Set("account_name", query.AccountName)
	page := query.Page
	if page <= 0 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("type", string(query.Kind)+"s")
	if strings.TrimSpace(query.Search) != "" {
		q.Set("search", strings.TrimSpace(query.Search))
	}
	var payload map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/account-data?"+q.Encode(), nil, &payload); err != nil {
		return portal.AccountPage{}, err
	}
	return portal.NormalizeAccountPage(payload, query.Kind), nil
}

// EditQuote posts replacement lines for a quote. Some backend versions return
// the full updated quote, others only an acknowledgment; Adopted reports which.
func (c *HTTPClient) EditQuote(ctx context.Context, quoteID string, lines []QuoteEditLine) (QuoteEditResult, error) {
	if strings.TrimSpace(quoteID) == "" {
		return QuoteEditResult{}, fmt.Errorf("quote id required")
	}
	body := map[string]any{
		"quote_name": quoteID,
		"lines":      lines,
	}
	var payload map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/quote-edit", body, &payload); err != nil {
		return QuoteEditResult{}, err
	}
	if payload == nil {
		return QuoteEditResult{}, nil
	}
	_, hasName := payload["name"]
	_, hasLines := payload["lines"]
	if !hasName && !hasLines {
		return QuoteEditResult{}, nil
	}
	return QuoteEditResult{
		Adopted: true,
		Quote:   portal.NormalizeListingEntry(payload, portal.KindQuote),
	}, nil
}

func (c *HTTPClient) SubmitQuote(ctx context.Context, submission QuoteSubmission) (string, error) {
	items := make([]SubmissionItem, 0, len(submission.Items))
	totalItems := 0
	total := decimal.Zero
	for _, entry := range submission.Items {
		items = append(items, SubmissionItem{
			ID:         entry.ID,
			PartNumber: entry.PartNumber,
			Name:       entry.Name,
			Quantity:   entry.Quantity,
			UnitPrice:  entry.UnitPrice.StringFixed(2),
			LineTotal:  entry.LineTotal().StringFixed(2),
		})
		totalItems += entry.Quantity
		total = total.Add(entry.LineTotal())
	}
	body := map[string]any{
		"user_id": submission.UserID,
		"items":   items,
		"summary": map[string]any{
			"total_items":  totalItems,
			"total_amount": total.StringFixed(2),
		},
		"meta": map[string]any{
			"source":       "portal",
			"submitted_at": c.now().UTC().Format(time.RFC3339),
		},
	}
	var payload struct {
		Reference string `json:"reference"`
		QuoteName string `json:"quote_name"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/quote", body, &payload); err != nil {
		return "", err
	}
	if payload.Reference != "" {
		return payload.Reference, nil
	}
	return payload.QuoteName, nil
}

func (c *HTTPClient) CopyOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("order id required")
	}
	body := map[string]any{"order_name": orderID}
	return c.doJSON(ctx, http.MethodPost, "/copy-order", body, nil)
}

func (c *HTTPClient) QuotePDF(ctx context.Context, quoteID string) ([]byte, error) {
	if strings.TrimSpace(quoteID) == "" {
		return nil, fmt.Errorf("quote id required")
	}
	q := url.Values{}
	q.Set("quote_name", quoteID)
	req, err := c.newRequest(ctx, http.MethodGet, "/get-quote-pdf?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Resource: quoteID}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}
	return payload, nil
}

func (c *HTTPClient) FetchAddress(ctx context.Context, userID string) (Address, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	var address Address
	err := c.doJSON(ctx, http.MethodGet, "/fetch-address?"+q.Encode(), nil, &address)
	return address, err
}

func (c *HTTPClient) UpdateAddress(ctx context.Context, userID string, address Address) error {
	body := map[string]any{
		"user_id": userID,
		"address": address,
	}
	return c.doJSON(ctx, http.MethodPost, "/update-address", body, nil)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, requestPath string, bodyReader io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.tokenProvider != nil {
		token, tokenErr := c.tokenProvider(ctx)
		if tokenErr != nil {
			return nil, tokenErr
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("X-Correlation-Id", correlationID(c.now()))
	return req, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := c.newRequest(ctx, method, requestPath, bodyReader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = strings.TrimSpace(string(payloadBytes))
		}
		if resp.StatusCode == http.StatusNotFound {
			return &NotFoundError{Resource: requestPath}
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func correlationID(at time.Time) string {
	return fmt.Sprintf("portal_%d", at.UnixNano())
}
