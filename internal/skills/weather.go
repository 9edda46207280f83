package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const openWeatherEndpoint = "https://api.openweathermap.org/data/2.5"

// Weather reports current conditions and short forecasts through the
// OpenWeatherMap API.
type Weather struct {
	apiKey   string
	settings clientSettings
}

// NewWeather creates the weather skill. apiKey must be non-empty.
func NewWeather(apiKey string, opts ...ClientOption) (*Weather, error) {
	if apiKey == "" {
		return nil, errors.New("skills: openweathermap apiKey must not be empty")
	}
	return &Weather{
		apiKey:   apiKey,
		settings: newClientSettings(openWeatherEndpoint, opts...),
	}, nil
}

// Definition implements Skill.
func (w *Weather) Definition() llm.Tool {
	return llm.Tool{
		Name:        "get_weather",
		Description: "Get current weather conditions and forecast for a specific location",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City name, state/country (e.g., 'London', 'New York, NY', 'Paris, France')",
				},
				"forecast_days": map[string]any{
					"type":        "integer",
					"description": "Number of forecast days to include (1-5, default: 1)",
				},
			},
			"required": []string{"location"},
		},
	}
}

type weatherArgs struct {
	Location     string `json:"location"`
	ForecastDays int    `json:"forecast_days"`
}

type currentWeather struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

type forecastWeather struct {
	List []struct {
		DtTxt string `json:"dt_txt"`
		Main  struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"list"`
}

// Execute implements Skill.
func (w *Weather) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a weatherArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("skills: decode weather arguments: %w", err)
	}
	if a.Location == "" {
		return "", errors.New("skills: weather location must not be empty")
	}
	if a.ForecastDays < 1 {
		a.ForecastDays = 1
	}
	if a.ForecastDays > 5 {
		a.ForecastDays = 5
	}

	q := url.Values{}
	q.Set("q", a.Location)
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")

	var cur currentWeather
	if err := w.getJSON(ctx, "/weather", q, &cur); err != nil {
		return "", err
	}

	place := cur.Name
	if place == "" {
		place = a.Location
	}
	if cur.Sys.Country != "" {
		place += ", " + cur.Sys.Country
	}
	desc := ""
	if len(cur.Weather) > 0 {
		desc = cur.Weather[0].Description
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weather in %s: %.1f°C (feels like %.1f°C), %s, humidity %d%%, wind %.1f m/s.\n",
		place, cur.Main.Temp, cur.Main.FeelsLike, desc, cur.Main.Humidity, cur.Wind.Speed)

	if a.ForecastDays > 1 {
		fq := url.Values{}
		fq.Set("q", a.Location)
		fq.Set("appid", w.apiKey)
		fq.Set("units", "metric")
		fq.Set("cnt", strconv.Itoa(a.ForecastDays*8))

		var fc forecastWeather
		// A forecast failure should not discard the current conditions.
		if err := w.getJSON(ctx, "/forecast", fq, &fc); err == nil {
			days := 0
			for _, item := range fc.List {
				// One entry per day: the midday slot of the 3-hour grid.
				if !strings.HasSuffix(item.DtTxt, "12:00:00") {
					continue
				}
				d := ""
				if len(item.Weather) > 0 {
					d = item.Weather[0].Description
				}
				fmt.Fprintf(&b, "%s: %.1f°C, %s.\n", strings.Fields(item.DtTxt)[0], item.Main.Temp, d)
				days++
				if days >= a.ForecastDays-1 {
					break
				}
			}
		}
	}

	return b.String(), nil
}

func (w *Weather) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.settings.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("skills: build weather request: %w", err)
	}
	resp, err := w.settings.client.Do(req)
	if err != nil {
		return fmt.Errorf("skills: weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("skills: weather API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("skills: decode weather response: %w", err)
	}
	return nil
}
