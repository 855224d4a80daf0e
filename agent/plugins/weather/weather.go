// Package weather reports current conditions from OpenWeather, falling back to wttr.in
// when no API key is configured or the API is unreachable.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const Name = "Weather"

type Config struct {
	APIKey          string        `envconfig:"OPENWEATHER_API_KEY"`
	DefaultLocation string        `split_words:"true" default:"New York"`
	Timeout         time.Duration `split_words:"true" default:"5s"`
	GeoURL          string        `split_words:"true" default:"http://api.openweathermap.org/geo/1.0/direct"`
	OneCallURL      string        `split_words:"true" default:"https://api.openweathermap.org/data/3.0/onecall"`
	FallbackURL     string        `split_words:"true" default:"https://wttr.in"`
}

type Plugin struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Plugin {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if strings.TrimSpace(cfg.DefaultLocation) == "" {
		cfg.DefaultLocation = "New York"
	}
	return &Plugin{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Provides current weather information." }
func (*Plugin) Intents() []string   { return []string{"weather"} }

func (p *Plugin) Handle(ctx context.Context, _ string, entities map[string]any, _ contractx.PluginContext) (string, error) {
	location := contractx.StringArg(entities, "location")
	if location == "" {
		location = p.cfg.DefaultLocation
	}
	return p.Report(ctx, location), nil
}

// Report always returns a user-facing sentence; upstream failures degrade to the fallback.
func (p *Plugin) Report(ctx context.Context, location string) string {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		log.Warn().Msg("openweather api key missing, falling back to wttr.in")
		return p.fallback(ctx, location)
	}

	place, err := p.geocode(ctx, location)
	if err != nil {
		log.Error().Err(err).Str("location", location).Msg("weather geocoding failed")
		return p.fallback(ctx, location)
	}
	if place == nil {
		return fmt.Sprintf("Sorry, I couldn't find the location '%s'.", location)
	}

	report, err := p.oneCall(ctx, *place)
	switch {
	case errors.Is(err, errDecode):
		log.Error().Err(err).Str("location", location).Msg("weather data parsing failed")
		return fmt.Sprintf("Sorry, I couldn't process the weather data for %s.", location)
	case err != nil:
		log.Error().Err(err).Str("location", location).Msg("weather api request failed")
		return p.fallback(ctx, location)
	}
	return report
}

var errDecode = errors.New("decode weather payload")

type geoResult struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

func (p *Plugin) geocode(ctx context.Context, location string) (*geoResult, error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("limit", "1")
	q.Set("appid", p.cfg.APIKey)

	var out []geoResult
	if err := p.getJSON(ctx, p.cfg.GeoURL+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

type oneCallResponse struct {
	Current *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
		UVI       float64 `json:"uvi"`
		Weather   []struct {
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"current"`
	Daily []struct {
		Summary string `json:"summary"`
		Temp    struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"temp"`
	} `json:"daily"`
}

func (p *Plugin) oneCall(ctx context.Context, place geoResult) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(place.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(place.Lon, 'f', -1, 64))
	q.Set("exclude", "minutely,hourly")
	q.Set("units", "imperial")
	q.Set("appid", p.cfg.APIKey)

	var data oneCallResponse
	if err := p.getJSON(ctx, p.cfg.OneCallURL+"?"+q.Encode(), &data); err != nil {
		return "", err
	}
	if data.Current == nil || len(data.Current.Weather) == 0 || len(data.Daily) == 0 {
		return "", fmt.Errorf("%w: missing current or daily block", errDecode)
	}

	cur := data.Current
	today := data.Daily[0]
	summary := today.Summary
	if summary == "" {
		summary = "No summary available."
	}

	return fmt.Sprintf(
		"Weather in %s: %s. Current temperature is %.0f°F (feels like %.0f°F). High: %.0f°F, Low: %.0f°F. Humidity: %s%%. UV Index: %s. Forecast: %s",
		place.Name, capitalize(cur.Weather[0].Description),
		cur.Temp, cur.FeelsLike,
		today.Temp.Max, today.Temp.Min,
		formatNumber(cur.Humidity), formatNumber(cur.UVI),
		summary,
	), nil
}

func (p *Plugin) fallback(ctx context.Context, location string) string {
	endpoint := strings.TrimRight(p.cfg.FallbackURL, "/") + "/" + url.PathEscape(location) + "?format=3"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.httpClient.Do(req)
		if err == nil {
			defer resp.Body.Close()
			var body []byte
			body, err = io.ReadAll(io.LimitReader(resp.Body, 4096))
			if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return "Current weather: " + strings.TrimSpace(string(body))
			}
			if err == nil {
				err = fmt.Errorf("wttr.in status %d", resp.StatusCode)
			}
		}
	}

	log.Error().Err(err).Str("location", location).Msg("fallback weather failed")
	return fmt.Sprintf("Sorry, I couldn't fetch the weather for %s.", location)
}

func (p *Plugin) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("openweather status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", errDecode, err)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
