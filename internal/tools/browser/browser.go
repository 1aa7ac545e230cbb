// Package browser exposes a headless-browser page fetcher as a tool provider.
package browser

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/errandhq/errand/internal/tools"
)

// PageResult is the extracted view of a rendered page.
type PageResult struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline"`
	Text     string `json:"text"`
	TopImage string `json:"top_image"`
	HTMLHash string `json:"html_hash"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}

// Fetcher renders a page in headless Chrome and extracts readable content.
type Fetcher struct {
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
}

// NewFetcher returns a fetcher with production defaults.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Timeout:   30 * time.Second,
		MaxChars:  12000,
		UserAgent: "ErrandAgent/1.0",
	}
}

// Fetch renders the page and runs readability extraction. A render failure is
// reported as Status 599 with a nil error so the step result carries the page
// record either way.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (PageResult, error) {
	if strings.TrimSpace(pageURL) == "" {
		return PageResult{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := f.fetchHTML(ctx, pageURL)
	if err != nil {
		return PageResult{URL: pageURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err != nil {
		return PageResult{URL: pageURL, Status: 200, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := article.TextContent
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	sum := sha1.Sum([]byte(html))

	return PageResult{
		URL:      pageURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     strings.TrimSpace(text),
		TopImage: article.Image,
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   200,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func (f *Fetcher) fetchHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// NewProvider wraps a Fetcher as a tool provider exposing browser.fetch_page.
func NewProvider(f *Fetcher) *tools.StaticProvider {
	if f == nil {
		f = NewFetcher()
	}
	p := tools.NewStaticProvider("browser")
	p.Register(tools.Tool{
		Name:        "browser.fetch_page",
		Description: "Render a web page in a headless browser and return its readable content",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url":       map[string]interface{}{"type": "string", "description": "Page URL to fetch"},
				"max_chars": map[string]interface{}{"type": "integer", "description": "Truncate extracted text to this many characters"},
			},
			"required": []interface{}{"url"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		rawURL, err := tools.AsString(args["url"])
		if err != nil {
			return nil, fmt.Errorf("argument url: %w", err)
		}
		fetcher := *f
		if mc, ok := args["max_chars"]; ok && mc != nil {
			n, err := tools.AsInt(mc)
			if err != nil {
				return nil, fmt.Errorf("argument max_chars: %w", err)
			}
			if n > 0 {
				fetcher.MaxChars = n
			}
		}
		page, err := fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"url":       page.URL,
			"title":     page.Title,
			"byline":    page.Byline,
			"text":      page.Text,
			"top_image": page.TopImage,
			"html_hash": page.HTMLHash,
			"status":    page.Status,
			"render_ms": page.RenderMS,
		}, nil
	})
	return p
}
