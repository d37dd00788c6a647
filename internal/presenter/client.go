package presenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/quota"
	"github.com/snapsell/backend/internal/router"
)

// AnalyzeResult is the outcome of the creation flow. A blocked answer arrives
// here as a decision with balances attached, not as an error: policy is a
// value the UI switches on.
type AnalyzeResult struct {
	Draft            *models.ListingDraft
	Entitlements     *models.Entitlements
	Decision         quota.Decision
	ShowUpgradeNudge bool
}

// SaveResult is the outcome of the save flow.
type SaveResult struct {
	Listing      *models.Listing
	Entitlements *models.Entitlements
	Decision     quota.Decision
}

// AnonymousAnalyzeResult is the outcome of the pre-signup flow. Blocked means
// the device's daily taste is spent, whether the server said so or the local
// cache did.
type AnonymousAnalyzeResult struct {
	Draft   *models.ListingDraft
	Quota   models.AnonymousQuota
	Blocked bool
}

// CheckoutSession points the shell at the processor's hosted payment page.
type CheckoutSession struct {
	PaymentID   string `json:"payment_id"`
	CheckoutURL string `json:"checkout_url"`
}

// Ledger is the server surface the kit consumes. The HTTP Client implements
// it; tests substitute fakes.
type Ledger interface {
	GetEntitlements(ctx context.Context) (*models.Entitlements, error)
	AnalyzePhoto(ctx context.Context, imageB64, mediaType string) (*AnalyzeResult, error)
	SaveListing(ctx context.Context, draft models.ListingDraft) (*SaveResult, error)
	DismissNudge(ctx context.Context) (*models.Entitlements, error)
	StartCheckout(ctx context.Context, product string) (*CheckoutSession, error)
	PaymentStatus(ctx context.Context, paymentID string) (*models.Payment, error)
	AnalyzeAnonymously(ctx context.Context, imageB64, mediaType string) (*AnonymousAnalyzeResult, error)
	AnonymousQuota(ctx context.Context) (models.AnonymousQuota, error)
}

const (
	defaultClientTimeout = 15 * time.Second
	maxResponseBody      = 1 << 20
)

// Client is the HTTP implementation of Ledger. One Client serves a whole app
// session: SetToken after sign-in upgrades it in place, SetDeviceID tags the
// anonymous calls.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu     sync.RWMutex
	token  string
	device string
}

var _ Ledger = (*Client)(nil)

// NewClient builds a client against baseURL. A nil httpc gets a 15s timeout
// default.
func NewClient(baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

// SetToken installs the bearer token used on authenticated calls. An empty
// token reverts the client to anonymous.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// SetDeviceID installs the install-scoped key sent with anonymous calls.
func (c *Client) SetDeviceID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = id
}

// DeviceID returns the configured device key.
func (c *Client) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type entitlementsEnvelope struct {
	Entitlements *models.Entitlements `json:"entitlements"`
}

// GetEntitlements fetches the authoritative balance record.
func (c *Client) GetEntitlements(ctx context.Context) (*models.Entitlements, error) {
	const op = "presenter.GetEntitlements"
	status, raw, err := c.do(ctx, http.MethodGet, "/v1/entitlements", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError(op, status, raw)
	}
	var env entitlementsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Entitlements == nil {
		return nil, domain.Internal(err, op, "unreadable entitlements response")
	}
	return env.Entitlements, nil
}

type analyzeRequestBody struct {
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type"`
}

type analyzeEnvelope struct {
	Draft            *models.ListingDraft `json:"draft"`
	Entitlements     *models.Entitlements `json:"entitlements"`
	Decision         quota.Decision       `json:"decision"`
	ShowUpgradeNudge bool                 `json:"show_upgrade_nudge"`
}

// AnalyzePhoto submits a photo for draft extraction. A 402 decodes into a
// Blocked result carrying the server's balances.
func (c *Client) AnalyzePhoto(ctx context.Context, imageB64, mediaType string) (*AnalyzeResult, error) {
	const op = "presenter.AnalyzePhoto"
	status, raw, err := c.do(ctx, http.MethodPost, "/v1/listings/analyze", analyzeRequestBody{
		ImageBase64: imageB64,
		MediaType:   mediaType,
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusPaymentRequired:
		var env analyzeEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Entitlements == nil {
			return nil, domain.Internal(err, op, "unreadable analyze response")
		}
		res := &AnalyzeResult{
			Draft:            env.Draft,
			Entitlements:     env.Entitlements,
			Decision:         env.Decision,
			ShowUpgradeNudge: env.ShowUpgradeNudge,
		}
		if status == http.StatusPaymentRequired {
			res.Decision = quota.Blocked
		}
		return res, nil
	default:
		return nil, apiError(op, status, raw)
	}
}

type saveEnvelope struct {
	Listing      *models.Listing      `json:"listing"`
	Entitlements *models.Entitlements `json:"entitlements"`
	Decision     quota.Decision       `json:"decision"`
}

// SaveListing persists a draft into a save slot. A 402 decodes into a Blocked
// result carrying the server's balances.
func (c *Client) SaveListing(ctx context.Context, draft models.ListingDraft) (*SaveResult, error) {
	const op = "presenter.SaveListing"
	status, raw, err := c.do(ctx, http.MethodPost, "/v1/listings", draft)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusCreated, http.StatusPaymentRequired:
		var env saveEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Entitlements == nil {
			return nil, domain.Internal(err, op, "unreadable save response")
		}
		res := &SaveResult{
			Listing:      env.Listing,
			Entitlements: env.Entitlements,
			Decision:     env.Decision,
		}
		if status == http.StatusPaymentRequired {
			res.Decision = quota.Blocked
		}
		return res, nil
	default:
		return nil, apiError(op, status, raw)
	}
}

// DismissNudge records the dismissal for the current reset window and
// returns the refreshed balances.
func (c *Client) DismissNudge(ctx context.Context) (*models.Entitlements, error) {
	const op = "presenter.DismissNudge"
	status, raw, err := c.do(ctx, http.MethodPost, "/v1/entitlements/nudge-dismissal", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError(op, status, raw)
	}
	var env entitlementsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Entitlements == nil {
		return nil, domain.Internal(err, op, "unreadable dismissal response")
	}
	return env.Entitlements, nil
}

type checkoutRequestBody struct {
	Product string `json:"product"`
}

// StartCheckout opens a payment session for product and returns the hosted
// page to send the user to.
func (c *Client) StartCheckout(ctx context.Context, product string) (*CheckoutSession, error) {
	const op = "presenter.StartCheckout"
	status, raw, err := c.do(ctx, http.MethodPost, "/v1/billing/checkout", checkoutRequestBody{Product: product})
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, apiError(op, status, raw)
	}
	var sess CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil || sess.PaymentID == "" {
		return nil, domain.Internal(err, op, "unreadable checkout response")
	}
	return &sess, nil
}

// PaymentStatus fetches one payment by its session id.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*models.Payment, error) {
	const op = "presenter.PaymentStatus"
	status, raw, err := c.do(ctx, http.MethodGet, "/v1/billing/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError(op, status, raw)
	}
	var p models.Payment
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, domain.Internal(err, op, "unreadable payment response")
	}
	return &p, nil
}

type anonAnalyzeRequestBody struct {
	DeviceID    string `json:"device_id"`
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type"`
}

type anonEnvelope struct {
	Draft *models.ListingDraft  `json:"draft"`
	Quota models.AnonymousQuota `json:"quota"`
}

// AnalyzeAnonymously runs the pre-signup analyze with the device key. A 429
// decodes into a Blocked result carrying the server's counter.
func (c *Client) AnalyzeAnonymously(ctx context.Context, imageB64, mediaType string) (*AnonymousAnalyzeResult, error) {
	const op = "presenter.AnalyzeAnonymously"
	status, raw, err := c.do(ctx, http.MethodPost, "/v1/anonymous/analyze", anonAnalyzeRequestBody{
		DeviceID:    c.DeviceID(),
		ImageBase64: imageB64,
		MediaType:   mediaType,
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusTooManyRequests:
		var env anonEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, domain.Internal(err, op, "unreadable analyze response")
		}
		return &AnonymousAnalyzeResult{
			Draft:   env.Draft,
			Quota:   env.Quota,
			Blocked: status == http.StatusTooManyRequests,
		}, nil
	default:
		return nil, apiError(op, status, raw)
	}
}

// AnonymousQuota peeks at the device's counter without consuming.
func (c *Client) AnonymousQuota(ctx context.Context) (models.AnonymousQuota, error) {
	const op = "presenter.AnonymousQuota"
	path := "/v1/anonymous/quota"
	if dev := c.DeviceID(); dev != "" {
		path += "?device_id=" + url.QueryEscape(dev)
	}
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return models.AnonymousQuota{}, err
	}
	if status != http.StatusOK {
		return models.AnonymousQuota{}, apiError(op, status, raw)
	}
	var q models.AnonymousQuota
	if err := json.Unmarshal(raw, &q); err != nil {
		return models.AnonymousQuota{}, domain.Internal(err, op, "unreadable quota response")
	}
	return q, nil
}

// do performs one exchange and hands back the status and body. Transport
// failures come back as unavailable so the retry policy treats them as
// transient; a caller-canceled context passes through untouched.
func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	const op = "presenter.Client"

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, domain.Internal(err, op, "could not encode request")
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, domain.Internal(err, op, "could not build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if dev := c.DeviceID(); dev != "" {
		req.Header.Set("X-Device-ID", dev)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, nil, err
		}
		return 0, nil, domain.Unavailable(err, op, "The server is unreachable. Check your connection and try again.")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, domain.Unavailable(err, op, "The connection dropped mid-response.")
	}
	return resp.StatusCode, raw, nil
}

// apiError rebuilds a domain error from an error response so KindOf and the
// sign-in handling work the same on both sides of the wire.
func apiError(op string, status int, raw []byte) error {
	var body router.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		return &domain.Error{Code: body.Error.Code, Op: op, Message: body.Error.Message}
	}
	switch {
	case status == http.StatusUnauthorized:
		return domain.Unauthorized(op, "Please sign in again.")
	case status >= http.StatusInternalServerError:
		return domain.Unavailable(nil, op, fmt.Sprintf("The server answered %d.", status))
	default:
		return domain.Errorf(domain.EINTERNAL, op, "unexpected status %d", status)
	}
}
