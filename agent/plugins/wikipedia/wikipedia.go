// Package wikipedia looks up article summaries through the Wikipedia REST API.
package wikipedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const Name = "Wikipedia"

const userAgent = "EchoBot/1.0 (+https://github.com/tanpawarit/echobot)"

var errNotFound = errors.New("wikipedia article not found")

type Config struct {
	URL       string        `envconfig:"URL" default:"https://en.wikipedia.org"`
	Sentences int           `split_words:"true" default:"2"`
	Timeout   time.Duration `split_words:"true" default:"5s"`
}

type Plugin struct {
	baseURL    string
	sentences  int
	httpClient *http.Client
}

func New(cfg Config) *Plugin {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Sentences <= 0 {
		cfg.Sentences = 2
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "https://en.wikipedia.org"
	}
	return &Plugin{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		sentences:  cfg.Sentences,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Searches Wikipedia for information." }
func (*Plugin) Intents() []string   { return []string{"wikipedia"} }

func (p *Plugin) Handle(ctx context.Context, _ string, entities map[string]any, _ contractx.PluginContext) (string, error) {
	query := contractx.StringArg(entities, "query")
	if query == "" {
		return "What topic should I look up on Wikipedia?", nil
	}

	log.Info().Str("query", query).Msg("wikipedia search")
	reply, err := p.lookup(ctx, query)
	switch {
	case errors.Is(err, errNotFound):
		return fmt.Sprintf("I couldn't find any Wikipedia article about %s.", query), nil
	case err != nil:
		log.Error().Err(err).Str("query", query).Msg("wikipedia lookup failed")
		return "Sorry, I encountered an error searching Wikipedia.", nil
	}
	return reply, nil
}

func (p *Plugin) lookup(ctx context.Context, query string) (string, error) {
	titles, err := p.search(ctx, query, 1)
	if err != nil {
		return "", err
	}
	if len(titles) == 0 {
		return "", errNotFound
	}

	page, err := p.summary(ctx, titles[0])
	if err != nil {
		return "", err
	}

	if page.Type == "disambiguation" {
		options, err := p.search(ctx, query, 4)
		if err != nil {
			return "", err
		}
		options = without(options, page.Title)
		if len(options) == 0 {
			return "", errNotFound
		}
		if len(options) > 3 {
			options = options[:3]
		}
		return fmt.Sprintf("I found multiple results. Did you mean: %s?", strings.Join(options, ", ")), nil
	}

	extract := firstSentences(page.Extract, p.sentences)
	if extract == "" {
		return "", errNotFound
	}
	return "According to Wikipedia: " + extract, nil
}

// search resolves free text to article titles, the same way the site's search box suggests them.
func (p *Plugin) search(ctx context.Context, query string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("action", "opensearch")
	q.Set("search", query)
	q.Set("limit", fmt.Sprint(limit))
	q.Set("namespace", "0")
	q.Set("format", "json")

	var raw []json.RawMessage
	if err := p.getJSON(ctx, p.baseURL+"/w/api.php?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("unexpected opensearch payload with %d elements", len(raw))
	}
	var titles []string
	if err := json.Unmarshal(raw[1], &titles); err != nil {
		return nil, fmt.Errorf("decode opensearch titles: %w", err)
	}
	return titles, nil
}

type pageSummary struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Extract string `json:"extract"`
}

func (p *Plugin) summary(ctx context.Context, title string) (*pageSummary, error) {
	endpoint := p.baseURL + "/api/rest_v1/page/summary/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	var out pageSummary
	if err := p.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Plugin) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("wikipedia status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	end := 0
	for i := 0; i < n; i++ {
		idx := strings.Index(text[end:], ". ")
		if idx < 0 {
			return text
		}
		end += idx + 1
	}
	return strings.TrimSpace(text[:end])
}

func without(list []string, drop string) []string {
	out := list[:0]
	for _, s := range list {
		if !strings.EqualFold(s, drop) {
			out = append(out, s)
		}
	}
	return out
}
