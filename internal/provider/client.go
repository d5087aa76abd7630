package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/smmkit/panel-api/internal/types"
)

// Client issues fulfillment calls against provider HTTP endpoints and
// normalizes the heterogeneous replies. Upstream failures of any kind (HTTP
// errors, timeouts, malformed bodies, provider error payloads) come back as
// error values; the client never panics across its boundary, because its
// callers are background loops that must keep running regardless of one
// provider's health.
type Client struct {
	http           *resty.Client
	statusTimeout  time.Duration
	requestTimeout time.Duration
}

// NewClient builds a provider client. statusTimeout bounds the high-frequency
// status/balance calls; requestTimeout bounds placement and catalog calls.
func NewClient(statusTimeout, requestTimeout time.Duration) *Client {
	httpClient := resty.New()

	return &Client{
		http:           httpClient,
		statusTimeout:  statusTimeout,
		requestTimeout: requestTimeout,
	}
}

// do sends one form-encoded action request to the provider endpoint and
// returns the raw body on HTTP 200.
func (c *Client) do(ctx context.Context, p *types.Provider, action Action, fields map[string]string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := map[string]string{
		"key":    p.APIKey,
		"action": string(action),
	}
	for k, v := range fields {
		form[k] = v
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(p.APIURL)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %s request failed: %w", p.Name, action, err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("provider %s: %s request returned status %s", p.Name, action, resp.Status())
	}

	return resp.Body(), nil
}

// PlaceOrder sends an "add" action. Success is recognized by the presence of
// an order identifier in the response; any other shape is an error and the
// caller decides retry policy.
func (c *Client) PlaceOrder(ctx context.Context, p *types.Provider, providerServiceID, link string, quantity int) (*PlaceOrderResult, error) {
	body, err := c.do(ctx, p, ActionAdd, map[string]string{
		"service":  providerServiceID,
		"link":     link,
		"quantity": strconv.Itoa(quantity),
	}, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	var parsed addResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: cannot decode add response: %w", p.Name, err)
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("provider %s: add rejected: %s", p.Name, parsed.Error)
	}

	if parsed.Order == "" {
		return nil, fmt.Errorf("provider %s: add response carries no order id", p.Name)
	}

	return &PlaceOrderResult{ProviderOrderID: parsed.Order.String()}, nil
}

// CheckStatus sends a "status" action and folds the reply into the canonical
// status record. Progress fields are derived when the provider reports enough
// of start_count, current count and charge; otherwise they default to zero.
func (c *Client) CheckStatus(ctx context.Context, p *types.Provider, providerOrderID string) (*OrderStatus, error) {
	body, err := c.do(ctx, p, ActionStatus, map[string]string{
		"order": providerOrderID,
	}, c.statusTimeout)
	if err != nil {
		return nil, err
	}

	var parsed statusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: cannot decode status response: %w", p.Name, err)
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("provider %s: status rejected: %s", p.Name, parsed.Error)
	}

	current := parsed.Current
	if current == "" {
		current = parsed.CurrentCount
	}

	status := &OrderStatus{
		Status:     MapStatus(parsed.Status.String()),
		StartCount: parsed.StartCount.Int(),
		Remains:    parsed.Remains.Int(),
	}
	status.DeliveredCount, status.CompletionPercentage = deriveProgress(
		parsed.StartCount.Int(), current.Int(), parsed.Charge.Float(),
	)

	return status, nil
}

// FetchBalance sends a "balance" action.
func (c *Client) FetchBalance(ctx context.Context, p *types.Provider) (*Balance, error) {
	body, err := c.do(ctx, p, ActionBalance, nil, c.statusTimeout)
	if err != nil {
		return nil, err
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: cannot decode balance response: %w", p.Name, err)
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("provider %s: balance rejected: %s", p.Name, parsed.Error)
	}

	return &Balance{
		Balance:  parsed.Balance.Float(),
		Currency: parsed.Currency.String(),
	}, nil
}

// FetchServices sends a "services" action and returns the provider catalog.
// Entries missing a service id are dropped with a warning rather than
// failing the whole import.
func (c *Client) FetchServices(ctx context.Context, p *types.Provider) ([]CatalogService, error) {
	body, err := c.do(ctx, p, ActionServices, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	var entries []catalogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("provider %s: cannot decode services response: %w", p.Name, err)
	}

	services := make([]CatalogService, 0, len(entries))
	for _, e := range entries {
		if e.Service == "" {
			log.Warn().Str("provider", p.Name).Str("service_name", e.Name.String()).
				Msg("skipping catalog entry without service id")
			continue
		}
		services = append(services, CatalogService{
			ServiceID: e.Service.String(),
			Name:      e.Name.String(),
			Category:  e.Category.String(),
			Rate:      e.Rate.Float(),
			Min:       e.Min.Int(),
			Max:       e.Max.Int(),
		})
	}

	return services, nil
}
