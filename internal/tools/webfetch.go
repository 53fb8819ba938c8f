package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// WebFetchTool fetches a page and reduces it to readable markdown.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates the web_fetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a web page and extract its readable content as markdown. Sites with bot protection may refuse the request."
}

func (t *WebFetchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch",
			},
			"max_length": map[string]any{
				"type":        "integer",
				"description": "Maximum content length to return (default 10000)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		URL       string `json:"url"`
		MaxLength int    `json:"max_length"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if params.URL == "" {
		return "", fmt.Errorf("url is required")
	}
	parsedURL, err := url.Parse(params.URL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("URL must use http or https")
	}
	maxLen := params.MaxLength
	if maxLen <= 0 {
		maxLen = 10000
	}

	req, err := http.NewRequestWithContext(ctx, "GET", params.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := t.client.Do(req)
	if err != nil {
		L_error("web_fetch: request failed", "url", params.URL, "error", err)
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxLen)))
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		return string(body), nil
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		L_error("web_fetch: readability failed", "url", params.URL, "error", err)
		return "", fmt.Errorf("parse page: %w", err)
	}

	body := article.TextContent
	if markdown, err := htmltomd.ConvertString(article.Content); err == nil && strings.TrimSpace(markdown) != "" {
		body = markdown
	} else if err != nil {
		L_warn("web_fetch: markdown conversion failed, using plain text", "error", err)
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Title: %s\n", article.Title)
	if article.Byline != "" {
		fmt.Fprintf(&result, "Author: %s\n", article.Byline)
	}
	fmt.Fprintf(&result, "URL: %s\n\n---\n\n", params.URL)
	result.WriteString(body)

	content := result.String()
	if len(content) > maxLen {
		content = content[:maxLen] + "\n\n[Content truncated...]"
	}
	L_debug("web_fetch: complete", "url", params.URL, "chars", len(content))
	return content, nil
}
