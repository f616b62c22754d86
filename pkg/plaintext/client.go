// Package plaintext fetches untimed lyrics by searching a text-lyrics
// provider and scraping the result page.
package plaintext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound  = errors.New("plaintext: no lyrics found")
	ErrMalformed = errors.New("plaintext: malformed response")
)

var logger = log.With().Str("component", "plaintext").Logger()

// containerSelectors are tried in order; the first that matches wins.
var containerSelectors = []string{
	"[data-lyrics-container]",
	".lyrics",
	"#lyrics",
}

var (
	sectionMarkerRe = regexp.MustCompile(`\[[^\]\n]*\]`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// Hit is one search result.
type Hit struct {
	Title  string
	Artist string
	URL    string
}

type searchResponse struct {
	Response *struct {
		Hits []struct {
			Type   string `json:"type"`
			Result *struct {
				Title         string `json:"title"`
				URL           string `json:"url"`
				PrimaryArtist *struct {
					Name string `json:"name"`
				} `json:"primary_artist"`
			} `json:"result"`
		} `json:"hits"`
	} `json:"response"`
}

// Client 纯文本歌词客户端
type Client struct {
	httpClient *http.Client
	searchURL  string
	token      string
	userAgent  string
}

// NewClient creates a client. token is sent as a bearer token when set.
func NewClient(searchURL, token, userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 8 * time.Second},
		searchURL:  searchURL,
		token:      token,
		userAgent:  userAgent,
	}
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "plaintext"
}

// Search queries the provider and returns hits that carry a page URL.
func (c *Client) Search(ctx context.Context, title, artist string) ([]Hit, error) {
	if c.searchURL == "" {
		return nil, ErrNotFound
	}
	u, err := url.Parse(c.searchURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search url: %w", err)
	}
	q := u.Query()
	q.Set("q", strings.TrimSpace(artist+" "+title))
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String(), true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp searchResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.Response == nil {
		return nil, fmt.Errorf("%w: missing response", ErrMalformed)
	}

	var hits []Hit
	for _, h := range resp.Response.Hits {
		if h.Result == nil || h.Result.URL == "" {
			continue
		}
		hit := Hit{Title: h.Result.Title, URL: h.Result.URL}
		if h.Result.PrimaryArtist != nil {
			hit.Artist = h.Result.PrimaryArtist.Name
		}
		hits = append(hits, hit)
	}
	if len(hits) == 0 {
		return nil, ErrNotFound
	}
	return hits, nil
}

// Fetch scrapes the lyrics text from a result page.
func (c *Client) Fetch(ctx context.Context, pageURL string) (string, error) {
	body, err := c.get(ctx, pageURL, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	text := Extract(doc)
	if text == "" {
		logger.Debug().Str("url", pageURL).Msg("No lyrics container on page")
		return "", ErrNotFound
	}
	return text, nil
}

// GetLyrics 搜索并抓取第一个结果
func (c *Client) GetLyrics(ctx context.Context, title, artist string) (string, error) {
	hits, err := c.Search(ctx, title, artist)
	if err != nil {
		return "", err
	}
	hit := pickHit(hits, title)
	logger.Info().Str("title", hit.Title).Str("artist", hit.Artist).Str("url", hit.URL).Msg("Scraping lyrics page")
	return c.Fetch(ctx, hit.URL)
}

func pickHit(hits []Hit, title string) Hit {
	want := strings.ToLower(strings.TrimSpace(title))
	for _, h := range hits {
		if want != "" && strings.Contains(strings.ToLower(h.Title), want) {
			return h
		}
	}
	return hits[0]
}

// Extract pulls lyric text out of a parsed page by structural container.
// Entities are decoded by the HTML parser; <br> becomes a newline.
func Extract(doc *goquery.Document) string {
	for _, sel := range containerSelectors {
		found := doc.Find(sel)
		if found.Length() == 0 {
			continue
		}
		var parts []string
		found.Each(func(_ int, s *goquery.Selection) {
			s.Find("br").ReplaceWithHtml("\n")
			parts = append(parts, s.Text())
		})
		if text := Clean(strings.Join(parts, "\n")); text != "" {
			return text
		}
	}
	return ""
}

// Clean strips section markers like "[Chorus]", trims every line and
// collapses runs of blank lines into one.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = sectionMarkerRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func (c *Client) get(ctx context.Context, rawURL string, auth bool) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("plaintext: request returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
