// Package weather provides location and forecast tools backed by the free
// ipinfo.io and wttr.in services. Neither needs an API key, which keeps the
// default tool set useful out of the box.
package weather

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/tool"
)

const (
	defaultIPInfoURL = "https://ipinfo.io"
	defaultWttrURL   = "https://wttr.in"

	userAgent = "Mozilla/5.0 (compatible; PennyBot/1.0)"
)

// Options configure a Provider.
type Options struct {
	// HTTPClient overrides the default 10-second-timeout client.
	HTTPClient *http.Client
	// IPInfoURL and WttrURL override the service base URLs. Used by tests.
	IPInfoURL string
	WttrURL   string
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) func(o *Options) {
	return func(o *Options) { o.HTTPClient = c }
}

// WithBaseURLs overrides both service endpoints.
func WithBaseURLs(ipinfoURL, wttrURL string) func(o *Options) {
	return func(o *Options) {
		o.IPInfoURL = ipinfoURL
		o.WttrURL = wttrURL
	}
}

// Provider holds the HTTP plumbing shared by the weather tools.
type Provider struct {
	client    *http.Client
	ipinfoURL string
	wttrURL   string
}

// New creates a weather Provider.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		IPInfoURL:  defaultIPInfoURL,
		WttrURL:    defaultWttrURL,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Provider{
		client:    opts.HTTPClient,
		ipinfoURL: opts.IPInfoURL,
		wttrURL:   opts.WttrURL,
	}
}

// Tools returns the tools contributed by this provider.
func (p *Provider) Tools() []tool.Tool {
	return []tool.Tool{p.newCurrentLocationTool(), p.newForecastTool()}
}

// Location is the IP-derived position returned by get_current_location.
type Location struct {
	IP       string `json:"ip,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
	Loc      string `json:"loc,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

func (p *Provider) newCurrentLocationTool() tool.Tool {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	return tool.NewFunctionTool(
		"get_current_location",
		"Look up the user's approximate current location from their IP address. More accurate than guessing a location for the weather forecast.",
		params,
		func(toolCtx *core.ToolContext, _ map[string]any) (any, error) {
			var loc Location
			if err := p.getJSON(toolCtx, p.ipinfoURL+"/json", &loc); err != nil {
				return nil, err
			}
			return loc, nil
		},
	)
}

type forecastArgs struct {
	Location string `json:"location" description:"City name, airport code or lat,lon to fetch the forecast for"`
}

func (p *Provider) newForecastTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"get_weather_forecast",
		"Get the current weather and a three day forecast for a location. Use get_current_location first when the user means 'here'.",
		forecastArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			location, _ := args["location"].(string)
			if location == "" {
				return nil, fmt.Errorf("location must not be empty")
			}

			var forecast map[string]any
			u := fmt.Sprintf("%s/%s?format=j1", p.wttrURL, url.PathEscape(location))
			if err := p.getJSON(toolCtx, u, &forecast); err != nil {
				return nil, err
			}
			return forecast, nil
		},
	)
}

// getJSON performs a GET and decodes the JSON response into out.
func (p *Provider) getJSON(toolCtx *core.ToolContext, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(toolCtx.Context(), "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, req.URL.Host, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	return nil
}
