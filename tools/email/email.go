// Package email exposes read-only mailbox tools over IMAP. A single lazily
// connected account is shared by the tools; access is mutex serialized
// because one IMAP connection cannot interleave commands.
package email

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/tool"
)

// Config describes the IMAP account the tools read from.
type Config struct {
	Host     string
	Port     int // default 993
	Username string
	Password string
	// Insecure dials without TLS. Local testing only.
	Insecure bool
	// Folder is the mailbox to operate on. Default "INBOX".
	Folder string
}

// Provider wraps a go-imap/v2 client with lazy connection and
// mutex-serialized access. All tool handlers are goroutine-safe.
type Provider struct {
	cfg Config

	mu     sync.Mutex
	client *imapclient.Client
}

// New creates an email provider. The connection is established on first use.
func New(cfg Config) *Provider {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Provider{cfg: cfg}
}

// Tools returns the tools contributed by this provider.
func (p *Provider) Tools() []tool.Tool {
	return []tool.Tool{p.newListMessagesTool(), p.newGetMessageTool()}
}

// Close logs out and closes the IMAP connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// connectLocked dials and authenticates. Caller must hold p.mu.
func (p *Provider) connectLocked(logger logging.Logger) error {
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}
	if p.cfg.Host == "" {
		return fmt.Errorf("imap host is not configured")
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))

	var opts imapclient.Options
	if !p.cfg.Insecure {
		opts.TLSConfig = &tls.Config{ServerName: p.cfg.Host}
	}

	logger.Debug("email.connecting", "host", p.cfg.Host, "port", p.cfg.Port, "tls", !p.cfg.Insecure)

	var client *imapclient.Client
	var err error
	if p.cfg.Insecure {
		client, err = imapclient.DialInsecure(addr, &opts)
	} else {
		client, err = imapclient.DialTLS(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", addr, err)
	}

	if err := client.Login(p.cfg.Username, p.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", p.cfg.Username, err)
	}

	p.client = client
	logger.Info("email.connected", "host", p.cfg.Host, "user", p.cfg.Username)
	return nil
}

// ensureConnected reconnects when the connection went stale. Caller must hold p.mu.
func (p *Provider) ensureConnected(logger logging.Logger) error {
	if p.client != nil {
		if err := p.client.Noop().Wait(); err == nil {
			return nil
		}
		logger.Debug("email.reconnecting", "host", p.cfg.Host)
	}
	return p.connectLocked(logger)
}

// selectFolder selects the configured mailbox. Caller must hold p.mu.
func (p *Provider) selectFolder() error {
	if _, err := p.client.Select(p.cfg.Folder, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", p.cfg.Folder, err)
	}
	return nil
}

// Message is an email as shown to the model. Listings leave Content empty;
// email_get_message fills it with the extracted text body.
type Message struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	To       string `json:"to"`
	Received string `json:"received"`
	Content  string `json:"content,omitempty"`
}

type listMessagesArgs struct {
	Query      string `json:"query,omitempty" description:"Free text matched against headers and bodies. Empty lists the most recent messages."`
	MaxResults int    `json:"max_results,omitempty" description:"Maximum number of messages to return. Defaults to 100."`
}

func (p *Provider) newListMessagesTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"email_list_messages",
		"List messages in the user's mailbox, newest first. Returns id, subject, from, to and received for each message; use email_get_message to read one.",
		listMessagesArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			maxResults := 100
			if v, ok := args["max_results"].(float64); ok && v > 0 {
				maxResults = int(v)
			}
			return p.listMessages(toolCtx, query, maxResults)
		},
		tool.WithRequiredScopes(core.ScopeMailReadonly),
	)
}

type getMessageArgs struct {
	ID string `json:"id" description:"Message id as returned by email_list_messages"`
}

func (p *Provider) newGetMessageTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"email_get_message",
		"Read a single message including its text body.",
		getMessageArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			id, _ := args["id"].(string)
			uid, err := strconv.ParseUint(id, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid message id %q", id)
			}
			return p.getMessage(toolCtx, imap.UID(uid))
		},
		tool.WithRequiredScopes(core.ScopeMailReadonly),
	)
}

func (p *Provider) listMessages(toolCtx *core.ToolContext, query string, limit int) ([]Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := toolCtx.Logger()
	if err := p.ensureConnected(logger); err != nil {
		return nil, err
	}
	if err := p.selectFolder(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if query != "" {
		criteria.Text = []string{query}
	}

	searchData, err := p.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.cfg.Folder, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return []Message{}, nil
	}
	// Highest UIDs are the newest messages.
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(uids...)

	return p.fetchSummaries(uidSet, logger)
}

// fetchSummaries fetches envelope data for the given UIDs and returns
// messages newest-first. Caller must hold p.mu with a selected folder.
func (p *Provider) fetchSummaries(uidSet imap.UIDSet, logger logging.Logger) ([]Message, error) {
	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}

	fetchCmd := p.client.Fetch(uidSet, fetchOpts)

	var messages []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid imap.UID
		var env *imap.Envelope
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataEnvelope:
				env = data.Envelope
			case imapclient.FetchItemDataBodySection:
				drainLiteral(data.Literal)
			}
		}
		if uid == 0 {
			logger.Debug("email.skipping_message", "reason", "missing uid")
			continue
		}
		messages = append(messages, buildMessage(uid, env))
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// buildMessage maps IMAP envelope data to the model-facing shape.
func buildMessage(uid imap.UID, env *imap.Envelope) Message {
	m := Message{ID: strconv.FormatUint(uint64(uid), 10)}
	if env == nil {
		return m
	}

	m.Subject = env.Subject
	if !env.Date.IsZero() {
		m.Received = env.Date.Format(time.RFC3339)
	}
	if len(env.From) > 0 {
		m.From = formatAddress(env.From[0])
	}
	var to []string
	for _, addr := range env.To {
		to = append(to, formatAddress(addr))
	}
	m.To = strings.Join(to, ", ")
	return m
}

// formatAddress renders an IMAP address as "Name <user@host>" or just
// "user@host" when no display name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}

// drainLiteral discards an unread IMAP literal so the stream stays in sync.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}
