// Package websearch exposes web search as a tool, backed by Perplexity's
// OpenAI-compatible chat API. The sonar models answer with fresh results from
// a continuously refreshed index, so the agent can ground replies in current
// information without a separate scraping pipeline.
package websearch

import (
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/tool"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	defaultModel   = "sonar"

	systemPrompt = "Be precise and concise."
)

// Options configure the search provider.
type Options struct {
	// APIKey is the Perplexity API credential. Required.
	APIKey string
	// BaseURL overrides the API endpoint. Used by tests.
	BaseURL string
	// Model selects the sonar variant.
	Model string
}

// WithBaseURL points the provider at an alternate endpoint.
func WithBaseURL(url string) func(o *Options) {
	return func(o *Options) { o.BaseURL = url }
}

// WithModel selects a different search model.
func WithModel(name string) func(o *Options) {
	return func(o *Options) { o.Model = name }
}

// Provider owns the lazily created API client shared by searches.
type Provider struct {
	opts Options

	mu     sync.Mutex
	client *openai.Client
}

// New creates a search provider with the given API key.
func New(apiKey string, optFns ...func(o *Options)) *Provider {
	opts := Options{
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		Model:   defaultModel,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{opts: opts}
}

// Tools returns the tools contributed by this provider.
func (p *Provider) Tools() []tool.Tool {
	return []tool.Tool{p.newSearchTool()}
}

type searchArgs struct {
	Query string `json:"query" description:"The search query, phrased as a question or topic"`
}

func (p *Provider) newSearchTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"search",
		"Get ranked search results from Perplexity's continuously refreshed index. Use this for anything that may have changed since your training data.",
		searchArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query must not be empty")
			}

			client, err := p.getClient()
			if err != nil {
				return nil, err
			}

			resp, err := client.Chat.Completions.New(toolCtx.Context(), openai.ChatCompletionNewParams{
				Model: p.opts.Model,
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(systemPrompt),
					openai.UserMessage(query),
				},
			})
			if err != nil {
				return nil, fmt.Errorf("perplexity api error: %w", err)
			}
			if len(resp.Choices) == 0 {
				return nil, fmt.Errorf("perplexity returned no choices")
			}
			return resp.Choices[0].Message.Content, nil
		},
	)
}

// getClient creates the API client on first use.
func (p *Provider) getClient() (*openai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.opts.APIKey == "" {
		return nil, fmt.Errorf("perplexity API key is not configured")
	}

	client := openai.NewClient(
		option.WithAPIKey(p.opts.APIKey),
		option.WithBaseURL(p.opts.BaseURL),
	)
	p.client = &client
	return p.client, nil
}
