package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/harun/tandem/pkg/tools"
)

const (
	maxMarkdownBytes = 200 * 1024
	maxFetchBytes    = 5 * 1024 * 1024
	minFetchTimeout  = 5
	maxFetchTimeout  = 120
)

// WebFetchMarkdown fetches a URL and converts HTML pages to markdown.
func WebFetchMarkdown(client *http.Client) tools.Descriptor {
	if client == nil {
		client = &http.Client{}
	}
	return tools.Descriptor{
		Name:        "web_fetch_md",
		Description: "Fetch content from a URL and convert the HTML to clean Markdown. Useful for reading web pages and documentation.",
		Kind:        tools.KindNetwork,
		Parameters: []tools.Parameter{
			{Name: "url", Type: "string", Description: "URL to fetch (must be http:// or https://).", Required: true},
			{Name: "timeout", Type: "integer", Description: "Request timeout in seconds, 5 to 120 (default 30).", Default: 30},
		},
		Timeout: (maxFetchTimeout + 10) * time.Second,
		Handler: func(ctx context.Context, inv tools.Invocation) tools.Result {
			return fetchMarkdown(ctx, client, inv)
		},
	}
}

func fetchMarkdown(ctx context.Context, client *http.Client, inv tools.Invocation) tools.Result {
	raw := inv.String("url", "")
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return tools.Failure("url must be http:// or https://")
	}

	secs := inv.Int("timeout", 30)
	if secs < minFetchTimeout || secs > maxFetchTimeout {
		return tools.Failure("timeout must be between %d and %d seconds", minFetchTimeout, maxFetchTimeout)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, raw, nil)
	if err != nil {
		return tools.Failure("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "tandem/1.0 (+https://github.com/harun/tandem)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown;q=0.9,text/plain;q=0.8,*/*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		return tools.Failure("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tools.Failure("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return tools.Failure("failed to read response: %v", err)
	}
	if len(body) > maxFetchBytes {
		return tools.Failure("response too large (exceeds %d bytes)", maxFetchBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	title := ""
	if strings.Contains(contentType, "html") || contentType == "" {
		title = extractTitle(text)
		text, err = htmlToMarkdown(text)
		if err != nil {
			return tools.Failure("markdown conversion failed: %v", err)
		}
	}
	text = strings.TrimSpace(text)

	truncated := false
	if len(text) > maxMarkdownBytes {
		text = text[:maxMarkdownBytes] + "\n... [content truncated]"
		truncated = true
	}

	out := text
	if title != "" {
		out = fmt.Sprintf("# %s\n\n%s", title, text)
	}
	return tools.Success(out).
		WithMetadata("url", raw).
		WithMetadata("status_code", resp.StatusCode).
		WithMetadata("content_length", len(body)).
		WithMetadata("markdown_length", len(text)).
		WithMetadata("title", title).
		WithMetadata("content_truncated", truncated)
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link", "noscript", "title")
	return converter.ConvertString(html)
}
