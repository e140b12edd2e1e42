// Package openai adapts the provider-neutral conversation model to the
// OpenAI chat-completions wire protocol.
package openai

import (
	"context"
	"errors"
	"net"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/schema"
	"github.com/modelbridge-ai/modelbridge/pkg/logger"
)

const defaultModel = "gpt-4o"

// Client is the OpenAI backend adapter.
type Client struct {
	api          *goopenai.Client
	schemas      *schema.Cache
	repairPolicy chat.RepairPolicy
	logger       *logger.Logger
}

// New creates a new OpenAI adapter.
func New(apiKey string, schemas *schema.Cache, repairPolicy chat.RepairPolicy, log *logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, provider.Errf(provider.BackendOpenAI, "config", provider.KindConfig, "OpenAI API key is required")
	}
	return &Client{
		api:          goopenai.NewClient(apiKey),
		schemas:      schemas,
		repairPolicy: repairPolicy,
		logger:       log,
	}, nil
}

// Backend returns the backend identity.
func (c *Client) Backend() provider.Backend {
	return provider.BackendOpenAI
}

// Complete performs a non-streaming exchange.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*chat.Turn, error) {
	wire, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, wire)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return translateResponse(resp)
}

// classify maps SDK failures into the adapter error taxonomy.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return provider.WrapErr(provider.BackendOpenAI, "request", provider.KindCanceled, err)
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return provider.WrapErr(provider.BackendOpenAI, "request", provider.KindAuth, err)
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode == 408 || apiErr.HTTPStatusCode >= 500:
			return provider.WrapErr(provider.BackendOpenAI, "request", provider.KindTransient, err)
		default:
			return provider.WrapErr(provider.BackendOpenAI, "request", provider.KindConfig, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.WrapErr(provider.BackendOpenAI, "request", provider.KindTransient, err)
	}
	return provider.WrapErr(provider.BackendOpenAI, "request", provider.KindTransient, err)
}
