// Package anthropic adapts the provider-neutral conversation model to the
// Anthropic messages wire protocol.
package anthropic

import (
	"context"
	"errors"
	"net"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/schema"
	"github.com/modelbridge-ai/modelbridge/pkg/logger"
)

const (
	defaultModel     = "claude-3-5-sonnet-20241022"
	defaultMaxTokens = 4096
)

// Client is the Anthropic backend adapter.
type Client struct {
	api          *sdk.Client
	schemas      *schema.Cache
	repairPolicy chat.RepairPolicy
	logger       *logger.Logger
}

// New creates a new Anthropic adapter.
func New(apiKey string, schemas *schema.Cache, repairPolicy chat.RepairPolicy, log *logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, provider.Errf(provider.BackendAnthropic, "config", provider.KindConfig, "Anthropic API key is required")
	}
	return &Client{
		api:          sdk.NewClient(option.WithAPIKey(apiKey)),
		schemas:      schemas,
		repairPolicy: repairPolicy,
		logger:       log,
	}, nil
}

// Backend returns the backend identity.
func (c *Client) Backend() provider.Backend {
	return provider.BackendAnthropic
}

// Complete performs a non-streaming exchange.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*chat.Turn, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return translateResponse(resp)
}

// classify maps SDK failures into the adapter error taxonomy.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return provider.WrapErr(provider.BackendAnthropic, "request", provider.KindCanceled, err)
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return provider.WrapErr(provider.BackendAnthropic, "request", provider.KindAuth, err)
		case apiErr.StatusCode == 429 || apiErr.StatusCode == 408 || apiErr.StatusCode >= 500:
			return provider.WrapErr(provider.BackendAnthropic, "request", provider.KindTransient, err)
		default:
			return provider.WrapErr(provider.BackendAnthropic, "request", provider.KindConfig, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.WrapErr(provider.BackendAnthropic, "request", provider.KindTransient, err)
	}
	return provider.WrapErr(provider.BackendAnthropic, "request", provider.KindTransient, err)
}
