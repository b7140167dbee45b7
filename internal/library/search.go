// Package library searches the public ollama model catalog.
package library

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBaseURL is the public catalog.
const DefaultBaseURL = "https://ollama.com"

// Model is one catalog entry.
type Model struct {
	Name        string
	Description string
	URL         string
	Sizes       []string // parameter size tags, e.g. "8b", "70b"
	Pulls       string   // as displayed, e.g. "12.3M"
}

// Client scrapes the catalog search page.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for baseURL, or DefaultBaseURL when empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Search returns up to limit catalog models matching query, in the order
// the catalog ranks them. A limit <= 0 means no limit.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Model, error) {
	u := c.baseURL + "/search?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search catalog: HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}
	return c.parse(doc, limit), nil
}

// Each result is an <li x-test-model> wrapping a link to /library/<name>.
func (c *Client) parse(doc *goquery.Document, limit int) []Model {
	var models []Model
	doc.Find("li[x-test-model]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(models) >= limit {
			return false
		}
		href, ok := s.Find("a[href]").First().Attr("href")
		if !ok {
			return true
		}

		name := strings.TrimSpace(s.Find("[x-test-search-response-title]").First().Text())
		if name == "" {
			name = strings.TrimPrefix(href, "/library/")
		}
		if name == "" {
			return true
		}

		m := Model{
			Name:        name,
			Description: strings.TrimSpace(s.Find("p").First().Text()),
			URL:         c.baseURL + href,
			Pulls:       strings.TrimSpace(s.Find("[x-test-pull-count]").First().Text()),
		}
		if strings.HasPrefix(href, "http") {
			m.URL = href
		}
		s.Find("[x-test-size]").Each(func(_ int, size *goquery.Selection) {
			if t := strings.TrimSpace(size.Text()); t != "" {
				m.Sizes = append(m.Sizes, t)
			}
		})
		models = append(models, m)
		return true
	})
	return models
}

// Tags returns the pullable names of m, one per size, or just the bare
// name when the catalog lists no sizes.
func (m Model) Tags() []string {
	if len(m.Sizes) == 0 {
		return []string{m.Name}
	}
	tags := make([]string, len(m.Sizes))
	for i, s := range m.Sizes {
		tags[i] = m.Name + ":" + s
	}
	return tags
}
