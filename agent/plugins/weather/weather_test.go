package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/echobot/agent/contract"
)

func newOpenWeather(t *testing.T, geo, onecall string, onecallStatus int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "key" {
			t.Errorf("geo request missing appid: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(geo))
	})
	mux.HandleFunc("/onecall", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("units") != "imperial" {
			t.Errorf("onecall request missing units: %s", r.URL.RawQuery)
		}
		w.WriteHeader(onecallStatus)
		_, _ = w.Write([]byte(onecall))
	})
	mux.HandleFunc("/wttr/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "3" {
			t.Errorf("fallback request missing format: %s", r.URL.RawQuery)
		}
		loc := strings.TrimPrefix(r.URL.Path, "/wttr/")
		_, _ = w.Write([]byte(loc + ": ☀️ +20°C\n"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func pluginFor(srv *httptest.Server, apiKey string) *Plugin {
	return New(Config{
		APIKey:          apiKey,
		DefaultLocation: "New York",
		GeoURL:          srv.URL + "/geo",
		OneCallURL:      srv.URL + "/onecall",
		FallbackURL:     srv.URL + "/wttr",
	})
}

const oneCallBody = `{
	"current": {"temp": 71.6, "feels_like": 70.2, "humidity": 40, "uvi": 5.5, "weather": [{"description": "clear sky"}]},
	"daily": [{"summary": "Expect a day of sunshine", "temp": {"min": 60.4, "max": 78.9}}]
}`

func TestHandleOneCall(t *testing.T) {
	t.Parallel()

	srv := newOpenWeather(t, `[{"name":"Toledo","lat":41.65,"lon":-83.53}]`, oneCallBody, http.StatusOK)
	got, err := pluginFor(srv, "key").Handle(context.Background(), "weather", map[string]any{"location": "toledo"}, contractx.PluginContext{})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	want := "Weather in Toledo: Clear sky. Current temperature is 72°F (feels like 70°F). High: 79°F, Low: 60°F. Humidity: 40%. UV Index: 5.5. Forecast: Expect a day of sunshine"
	if got != want {
		t.Fatalf("Handle() = %q, want %q", got, want)
	}
}

func TestHandleUnknownLocation(t *testing.T) {
	t.Parallel()

	srv := newOpenWeather(t, `[]`, oneCallBody, http.StatusOK)
	got, _ := pluginFor(srv, "key").Handle(context.Background(), "weather", map[string]any{"location": "atlantis"}, contractx.PluginContext{})
	if got != "Sorry, I couldn't find the location 'atlantis'." {
		t.Fatalf("Handle() = %q", got)
	}
}

func TestHandleFallsBackWithoutKey(t *testing.T) {
	t.Parallel()

	srv := newOpenWeather(t, `[]`, oneCallBody, http.StatusOK)
	got, _ := pluginFor(srv, "").Handle(context.Background(), "weather", map[string]any{}, contractx.PluginContext{})
	if got != "Current weather: New York: ☀️ +20°C" {
		t.Fatalf("Handle() = %q", got)
	}
}

func TestHandleFallsBackOnUnauthorized(t *testing.T) {
	t.Parallel()

	srv := newOpenWeather(t, `[{"name":"Paris","lat":48.85,"lon":2.35}]`, `{"cod":401}`, http.StatusUnauthorized)
	got, _ := pluginFor(srv, "key").Handle(context.Background(), "weather", map[string]any{"location": "paris"}, contractx.PluginContext{})
	if !strings.HasPrefix(got, "Current weather: paris") {
		t.Fatalf("Handle() = %q, want fallback report", got)
	}
}

func TestHandleBadPayload(t *testing.T) {
	t.Parallel()

	srv := newOpenWeather(t, `[{"name":"Paris","lat":48.85,"lon":2.35}]`, `{"current":null}`, http.StatusOK)
	got, _ := pluginFor(srv, "key").Handle(context.Background(), "weather", map[string]any{"location": "paris"}, contractx.PluginContext{})
	if got != "Sorry, I couldn't process the weather data for paris." {
		t.Fatalf("Handle() = %q", got)
	}
}

func TestHandleFallbackFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	got, _ := pluginFor(srv, "").Handle(context.Background(), "weather", map[string]any{"location": "oslo"}, contractx.PluginContext{})
	if got != "Sorry, I couldn't fetch the weather for oslo." {
		t.Fatalf("Handle() = %q", got)
	}
}
