// Package google provides a model wrapper for the Gemini API via the
// google.golang.org/genai SDK.
package google

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/model"
)

// Options configures the Gemini model adapter.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	APIKey          string
}

// WithModel sets the model id.
func WithModel(name string) func(o *Options) {
	return func(o *Options) { o.Model = name }
}

// WithAPIKey injects the API credential.
func WithAPIKey(key string) func(o *Options) {
	return func(o *Options) { o.APIKey = key }
}

// Model wraps the Gemini generateContent API behind the generic model.Model
// interface. The underlying client is created lazily on first Generate so
// construction stays infallible like the other adapters.
type Model struct {
	client *genai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:           "gemini-2.0-flash",
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
}

// NewModel creates a new Gemini model.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{opts: opts}
}

// NewModelFromClient creates a new Gemini model from an existing client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func (m *Model) ensureClient(ctx context.Context) (*genai.Client, error) {
	if m.client != nil {
		return m.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  m.opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}

	m.client = client

	return client, nil
}

// Generate implements non-streaming generation against the Gemini API.
// Streaming is not implemented; callers fall back to the final response.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		client, err := m.ensureClient(ctx)
		if err != nil {
			errCh <- err
			return
		}

		if req.Stream {
			errCh <- fmt.Errorf("streaming not yet implemented for Gemini model")
			return
		}

		contents := buildContents(req.Contents)
		config := m.buildConfig(req)

		resp, err := client.Models.GenerateContent(ctx, m.opts.Model, contents, config)
		if err != nil {
			errCh <- fmt.Errorf("gemini api error: %w", err)
			return
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			errCh <- fmt.Errorf("no candidates returned")
			return
		}

		cand := resp.Candidates[0]

		var parts []core.Part
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				parts = append(parts, core.TextPart{Text: p.Text})
			}
			if p.FunctionCall != nil {
				args := "{}"
				if len(p.FunctionCall.Args) > 0 {
					if b, err := json.Marshal(p.FunctionCall.Args); err == nil {
						args = string(b)
					}
				}
				parts = append(parts, core.FunctionCallPart{
					FunctionCall: core.FunctionCall{
						ID:        p.FunctionCall.ID,
						Name:      p.FunctionCall.Name,
						Arguments: args,
					},
				})
			}
		}

		finishReason := "stop"
		if cand.FinishReason != "" {
			finishReason = string(cand.FinishReason)
		}

		response := model.Response{
			Partial:      false,
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: finishReason,
		}

		if resp.UsageMetadata != nil {
			response.Usage = &model.TokenUsage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}

		out <- response
	}()

	return out, errCh
}

// buildConfig assembles generation settings, system instruction and tools.
func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.opts.Temperature),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}

	system := req.Instructions
	for _, c := range req.Contents {
		if c.Role == "system" {
			system += c.Text()
		}
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tdef := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tdef.Function.Name,
				Description: tdef.Function.Description,
				Parameters:  toSchema(tdef.Function.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return config
}

// buildContents converts normalized contents to Gemini contents. Gemini pairs
// function responses by declaration name, so tool role contents become user
// turns carrying function response parts.
func buildContents(contents []core.Content) []*genai.Content {
	var out []*genai.Content

	for _, c := range contents {
		switch c.Role {
		case "system":
			continue // folded into SystemInstruction
		case "tool":
			var parts []*genai.Part
			for _, p := range c.Parts {
				fr, ok := p.(core.FunctionResponsePart)
				if !ok {
					continue
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(
					fr.FunctionResponse.Name,
					functionResponsePayload(fr.FunctionResponse),
				))
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleUser, Parts: parts})
			}
		case "assistant":
			var parts []*genai.Part
			for _, p := range c.Parts {
				switch part := p.(type) {
				case core.TextPart:
					if part.Text != "" {
						parts = append(parts, genai.NewPartFromText(part.Text))
					}
				case core.FunctionCallPart:
					args := map[string]any{}
					if part.FunctionCall.Arguments != "" {
						_ = json.Unmarshal([]byte(part.FunctionCall.Arguments), &args)
					}
					parts = append(parts, genai.NewPartFromFunctionCall(part.FunctionCall.Name, args))
				}
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		default:
			if text := c.Text(); text != "" {
				out = append(out, genai.NewContentFromText(text, genai.RoleUser))
			}
		}
	}

	return out
}

// functionResponsePayload shapes a tool outcome into the map Gemini expects.
func functionResponsePayload(fr core.FunctionResponse) map[string]any {
	if fr.Error != "" {
		return map[string]any{"error": fr.Error}
	}
	if m, ok := fr.Response.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": fr.Response}
}

// toSchema converts a JSON schema map into the genai schema type.
func toSchema(params map[string]interface{}) *genai.Schema {
	if params == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	schema := &genai.Schema{Type: schemaType(params["type"])}

	if desc, ok := params["description"].(string); ok {
		schema.Description = desc
	}

	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toSchema(pm)
			}
		}
	}

	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	if enum, ok := params["enum"].([]any); ok {
		for _, e := range enum {
			schema.Enum = append(schema.Enum, fmt.Sprintf("%v", e))
		}
	}

	if items, ok := params["items"].(map[string]any); ok {
		schema.Items = toSchema(items)
	}

	return schema
}

func schemaType(v any) genai.Type {
	t, _ := v.(string)
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object", "":
		return genai.TypeObject
	default:
		return genai.TypeObject
	}
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "google",
		SupportsTools: true,
		MaxToolTurns:  8,
	}
}
