package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
)

const (
	searchToolName = "search_web"

	defaultSearchURL  = "https://html.duckduckgo.com/html/?q="
	defaultTimeout    = 30 * time.Second
	maxTimeout        = 120 * time.Second
	defaultMaxRetries = 3

	// Response bodies larger than this are rejected outright; results fed
	// back into the prompt are cut far shorter.
	maxResponseSize = 5 * 1024 * 1024
	maxResultRunes  = 4000

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// SearchConfig tunes the web-search tool. Zero values fall back to defaults.
type SearchConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Search answers engine tool requests by querying a public search endpoint
// and returning the result page as plain text or markdown. Transient
// failures (connection errors, 429, 5xx) are retried with exponential
// backoff.
type Search struct {
	client        *http.Client
	baseURL       string
	maxRetries    int
	retryInterval time.Duration
}

func NewSearch(cfg SearchConfig) *Search {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSearchURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Search{
		client:        &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		maxRetries:    maxRetries,
		retryInterval: 500 * time.Millisecond,
	}
}

func (s *Search) Name() string { return searchToolName }

func (s *Search) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: searchToolName,
		Desc: "Search the web for current information that is not in the campus reference material.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The search query.",
				Required: true,
			},
			"format": {
				Type: schema.String,
				Desc: "Result format, either text or markdown. Defaults to text.",
			},
		}),
	}
}

type searchArgs struct {
	Query  string `json:"query"`
	Format string `json:"format"`
}

func (s *Search) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse %s arguments: %w", searchToolName, err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("%s requires a query", searchToolName)
	}

	format := in.Format
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "markdown" {
		return "", fmt.Errorf("unsupported format %q", format)
	}

	body, err := s.fetch(ctx, s.baseURL+url.QueryEscape(in.Query))
	if err != nil {
		return "", err
	}

	var result string
	switch format {
	case "markdown":
		result, err = htmlToMarkdown(body)
	default:
		result, err = htmlToText(body)
	}
	if err != nil {
		return "", err
	}
	return truncateRunes(result, maxResultRunes), nil
}

func (s *Search) fetch(ctx context.Context, target string) ([]byte, error) {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", browserUserAgent)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("search endpoint returned status %d", resp.StatusCode))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxResponseSize {
			return backoff.Permanent(fmt.Errorf("response exceeds %d bytes", maxResponseSize))
		}
		body = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 10 * time.Second
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx))
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	return body, nil
}

func htmlToText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse result page: %w", err)
	}
	doc.Find("script, style, noscript, iframe, object, embed").Remove()

	text := strings.TrimSpace(doc.Text())
	return blankLines.ReplaceAllString(text, "\n\n"), nil
}

func htmlToMarkdown(body []byte) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
	})
	converter.Remove("script", "style", "meta", "link")

	out, err := converter.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert result page: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "\n[result truncated]"
}
