package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/pkg/logger"
)

const (
	defaultSerpURL   = "https://serpapi.com/search"
	defaultGoogleURL = "https://www.google.com/search"
	maxContentRunes  = 5000
	scrapeParallel   = 4
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

type Result struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Content       string `json:"content,omitempty"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

type Config struct {
	SerpAPIKey string
	SerpURL    string
	GoogleURL  string
	MaxResults int
	Timeout    time.Duration
	CacheSize  int
}

type Client struct {
	serpAPIKey string
	serpURL    string
	googleURL  string
	maxResults int
	httpClient *http.Client
	cache      *lru.Cache[string, []Result]
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.SerpURL == "" {
		cfg.SerpURL = defaultSerpURL
	}
	if cfg.GoogleURL == "" {
		cfg.GoogleURL = defaultGoogleURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}

	cache, err := lru.New[string, []Result](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}

	return &Client{
		serpAPIKey: cfg.SerpAPIKey,
		serpURL:    cfg.SerpURL,
		googleURL:  cfg.GoogleURL,
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
	}, nil
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if maxResults <= 0 || maxResults > 20 {
		maxResults = c.maxResults
	}

	key := strconv.Itoa(maxResults) + "|" + strings.ToLower(query)
	if cached, ok := c.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("web_search").Inc()
		logger.Debug("Web search cache hit", zap.String("query", query))
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues("web_search").Inc()

	logger.Info("Performing web search", zap.String("query", query))

	var (
		results []Result
		err     error
	)
	if c.serpAPIKey != "" {
		results, err = c.searchWithSerpAPI(ctx, query, maxResults)
	} else {
		results, err = c.searchWithGoogle(ctx, query, maxResults)
	}
	if err != nil {
		return nil, err
	}

	c.scrapeAll(ctx, results)
	c.cache.Add(key, results)

	logger.Info("Web search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// Retrieve fetches a single page and extracts its readable text.
func (c *Client) Retrieve(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{}, fmt.Errorf("invalid url %q", rawURL)
	}

	doc, err := c.fetchDocument(ctx, rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to retrieve %s: %w", rawURL, err)
	}

	content := extractText(doc)
	snippet := content
	if utf8.RuneCountInString(snippet) > 300 {
		snippet = string([]rune(snippet)[:300])
	}
	return Result{
		Title:         strings.TrimSpace(doc.Find("title").First().Text()),
		URL:           rawURL,
		Snippet:       snippet,
		Content:       content,
		PublishedDate: publishedDate(doc),
	}, nil
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, maxResults int) ([]Result, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serpURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		if len(results) == maxResults {
			break
		}
		results = append(results, Result{
			Title:         r.Title,
			URL:           r.Link,
			Snippet:       r.Snippet,
			PublishedDate: r.Date,
		})
	}
	return results, nil
}

func (c *Client) searchWithGoogle(ctx context.Context, query string, maxResults int) ([]Result, error) {
	searchURL := fmt.Sprintf("%s?q=%s&num=%d", c.googleURL, url.QueryEscape(query), maxResults)

	doc, err := c.fetchDocument(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]Result, 0, maxResults)
	doc.Find("div.g").EachWithBreak(func(i int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find("h3").First().Text())
		link, _ := s.Find("a").First().Attr("href")
		snippet := strings.TrimSpace(s.Find("div.VwiC3b").Text())

		if title != "" && link != "" {
			results = append(results, Result{Title: title, URL: link, Snippet: snippet})
		}
		return len(results) < maxResults
	})
	return results, nil
}

// scrapeAll fills Content for every result, falling back to the snippet.
func (c *Client) scrapeAll(ctx context.Context, results []Result) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scrapeParallel)

	for i := range results {
		i := i
		g.Go(func() error {
			doc, err := c.fetchDocument(gctx, results[i].URL)
			if err != nil {
				logger.Warn("Failed to scrape content", zap.String("url", results[i].URL), zap.Error(err))
				results[i].Content = results[i].Snippet
				return nil
			}
			results[i].Content = extractText(doc)
			if results[i].PublishedDate == "" {
				results[i].PublishedDate = publishedDate(doc)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Client) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func extractText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, noscript").Remove()

	var paragraphs []string
	doc.Find("body").Find("h1, h2, h3, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})

	text := strings.Join(paragraphs, "\n\n")
	if text == "" {
		text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	if utf8.RuneCountInString(text) > maxContentRunes {
		text = string([]rune(text)[:maxContentRunes])
	}
	return text
}

func publishedDate(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`meta[name="pubdate"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
