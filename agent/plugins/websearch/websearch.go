// Package websearch answers search requests through DuckDuckGo's instant-answer API
// or a SearXNG instance.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const Name = "WebSearch"

type Config struct {
	DuckDuckGoURL string        `envconfig:"DUCKDUCKGO_URL" default:"https://api.duckduckgo.com/"`
	SearxURL      string        `envconfig:"SEARXNG_URL"`
	MaxResults    int           `split_words:"true" default:"3"`
	Timeout       time.Duration `split_words:"true" default:"5s"`
}

type Result struct {
	Title string
	Body  string
	URL   string
}

// Searcher is a web search backend.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

type Plugin struct {
	searcher   Searcher
	maxResults int
}

func New(cfg Config) *Plugin {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	client := &http.Client{Timeout: cfg.Timeout}

	var s Searcher = &duckDuckGo{endpoint: cfg.DuckDuckGoURL, client: client}
	if strings.TrimSpace(cfg.SearxURL) != "" {
		s = &searx{endpoint: cfg.SearxURL, client: client}
	}
	return NewWithSearcher(s, cfg.MaxResults)
}

func NewWithSearcher(s Searcher, maxResults int) *Plugin {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Plugin{searcher: s, maxResults: maxResults}
}

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Performs web searches using DuckDuckGo." }
func (*Plugin) Intents() []string   { return []string{"search"} }

func (p *Plugin) Handle(ctx context.Context, _ string, entities map[string]any, _ contractx.PluginContext) (string, error) {
	query := contractx.StringArg(entities, "query")
	if query == "" {
		return "What would you like me to search for?", nil
	}

	log.Info().Str("query", query).Msg("web search")
	results, err := p.searcher.Search(ctx, query, p.maxResults)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("web search failed")
		return "Sorry, I couldn't perform the web search.", nil
	}
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any results for '%s'.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I found for '%s': ", query)
	for _, r := range results {
		fmt.Fprintf(&b, "%s. %s ", r.Title, firstSentence(r.Body))
	}
	return strings.TrimSpace(b.String()), nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	head, _, _ := strings.Cut(s, ".")
	return head + "."
}

type duckDuckGo struct {
	endpoint string
	client   *http.Client
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

func (d *duckDuckGo) Search(ctx context.Context, query string, max int) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	var data ddgResponse
	if err := getJSON(ctx, d.client, d.endpoint+"?"+q.Encode(), &data); err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}

	var out []Result
	if data.AbstractText != "" {
		out = append(out, Result{Title: data.Heading, Body: data.AbstractText, URL: data.AbstractURL})
	}

	var walk func([]ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if len(out) >= max {
				return
			}
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			if t.Text == "" {
				continue
			}
			out = append(out, Result{Title: titleFromURL(t.FirstURL, t.Text), Body: t.Text, URL: t.FirstURL})
		}
	}
	walk(data.RelatedTopics)

	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// titleFromURL turns https://duckduckgo.com/Go_(programming_language) into
// "Go (programming language)".
func titleFromURL(raw, fallback string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return fallback
	}
	seg, err := url.PathUnescape(path.Base(u.Path))
	if err != nil || seg == "" {
		return fallback
	}
	return strings.ReplaceAll(seg, "_", " ")
}

type searx struct {
	endpoint string
	client   *http.Client
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

func (s *searx) Search(ctx context.Context, query string, max int) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	var data searxResponse
	if err := getJSON(ctx, s.client, strings.TrimRight(s.endpoint, "/")+"/search?"+q.Encode(), &data); err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	out := make([]Result, 0, max)
	for _, r := range data.Results {
		if len(out) >= max {
			break
		}
		out = append(out, Result{Title: r.Title, Body: r.Content, URL: r.URL})
	}
	return out, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
