package email

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/go-shiori/go-readability"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
)

// maxBodySize caps the text body handed to the model.
const maxBodySize = 32 * 1024

// maxRawMessageSize caps how much of the raw RFC 822 literal is buffered.
// The remainder is drained to keep the IMAP stream in sync, so messages
// with huge attachments cannot wedge the connection.
const maxRawMessageSize = 5 * 1024 * 1024

// maxHTMLSize caps how much HTML is fed to the readability extractor.
const maxHTMLSize = 1024 * 1024

func (p *Provider) getMessage(toolCtx *core.ToolContext, uid imap.UID) (*Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := toolCtx.Logger()
	if err := p.ensureConnected(logger); err != nil {
		return nil, err
	}
	if err := p.selectFolder(); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)

	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: false}, // reading marks the message \Seen
		},
	}

	fetchCmd := p.client.Fetch(uidSet, fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message %d not found in %s", uid, p.cfg.Folder)
	}

	var gotUID imap.UID
	var env *imap.Envelope
	var rawBody []byte

	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			gotUID = data.UID
		case imapclient.FetchItemDataEnvelope:
			env = data.Envelope
		case imapclient.FetchItemDataBodySection:
			// The literal streams straight off the IMAP connection and
			// msg.Next() advances past unread data, so it must be consumed
			// here, not after the loop.
			if data.Literal == nil {
				continue
			}
			var readErr error
			rawBody, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			_, _ = io.Copy(io.Discard, data.Literal)
			if readErr != nil {
				logger.Debug("email.body_read_failed", "uid", uid, "error", readErr.Error())
				rawBody = nil
			}
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", uid, err)
	}

	if gotUID == 0 {
		gotUID = uid
	}
	result := buildMessage(gotUID, env)
	if rawBody != nil {
		result.Content = extractBody(rawBody, logger)
	}
	return &result, nil
}

// extractBody walks the MIME structure and returns the best text rendition
// of the message: text/plain when present, otherwise the readable text of
// the first text/html part. go-message may return a usable reader together
// with an unknown-charset error; those are treated as non-fatal since
// slightly garbled text still beats no text.
func extractBody(raw []byte, logger logging.Logger) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		logger.Debug("email.parse_failed", "error", err.Error())
		return ""
	}
	if mr == nil {
		return ""
	}

	var plainBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			logger.Debug("email.part_failed", "error", err.Error())
			break
		}
		if part == nil {
			continue
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			// Attachments are skipped entirely.
			continue
		}
		contentType, _, _ := header.ContentType()

		switch {
		case contentType == "text/plain" && plainBody == "":
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize+1))
			if err != nil {
				continue
			}
			plainBody = truncateBody(string(body))
		case contentType == "text/html" && htmlBody == "":
			body, err := io.ReadAll(io.LimitReader(part.Body, maxHTMLSize))
			if err != nil {
				continue
			}
			htmlBody = string(body)
		}
	}

	if plainBody != "" {
		return plainBody
	}
	if htmlBody != "" {
		return truncateBody(htmlToText(htmlBody))
	}
	return ""
}

func truncateBody(s string) string {
	if len(s) > maxBodySize {
		s = s[:maxBodySize] + "\n\n[truncated]"
	}
	return strings.TrimSpace(s)
}

// htmlToText extracts readable text from an HTML body. When the extractor
// finds nothing the raw markup is returned, which is still better than an
// empty message.
func htmlToText(html string) string {
	u, _ := url.Parse("https://mail.invalid/")
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return html
	}
	return article.TextContent
}
