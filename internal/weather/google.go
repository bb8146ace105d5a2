package weather

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

	"github.com/mbd888/krishiconnect/internal/retry"
)

const (
	defaultGoogleWeatherURL = "https://weather.googleapis.com/v1"
	forecastHours           = 48
)

// GoogleClient reads the Google Weather hourly forecast.
type GoogleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewGoogleClient creates a client for the forecast/hours:lookup endpoint.
func NewGoogleClient(apiKey string) *GoogleClient {
	return &GoogleClient{
		apiKey:     apiKey,
		baseURL:    defaultGoogleWeatherURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		attempts:   3,
		backoff:    300 * time.Millisecond,
	}
}

// WithBaseURL points the client at another endpoint (tests, proxies).
func (c *GoogleClient) WithBaseURL(u string) *GoogleClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// WithRetry overrides the retry policy for server errors.
func (c *GoogleClient) WithRetry(attempts int, backoff time.Duration) *GoogleClient {
	c.attempts = attempts
	c.backoff = backoff
	return c
}

type googleHour struct {
	Interval struct {
		StartTime time.Time `json:"startTime"`
	} `json:"interval"`
	WeatherCondition struct {
		Description struct {
			Text string `json:"text"`
		} `json:"description"`
	} `json:"weatherCondition"`
	Temperature struct {
		Degrees float64 `json:"degrees"`
	} `json:"temperature"`
	RelativeHumidity float64 `json:"relativeHumidity"`
	Precipitation    struct {
		Probability struct {
			Percent float64 `json:"percent"`
		} `json:"probability"`
	} `json:"precipitation"`
	Wind struct {
		Speed struct {
			Value float64 `json:"value"`
		} `json:"speed"`
	} `json:"wind"`
}

type googleResponse struct {
	ForecastHours []googleHour `json:"forecastHours"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Forecast fetches the next 48 hours. Server errors are retried; client
// errors are not.
func (c *GoogleClient) Forecast(ctx context.Context, lat, lon float64) ([]Hour, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("location.latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("location.longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("hours", strconv.Itoa(forecastHours))
	q.Set("pageSize", strconv.Itoa(forecastHours))
	endpoint := c.baseURL + "/forecast/hours:lookup?" + q.Encode()

	var out googleResponse
	err := retry.Do(ctx, c.attempts, c.backoff, func() error {
		out = googleResponse{}
		return c.fetch(ctx, endpoint, &out)
	})
	if err != nil {
		return nil, err
	}

	hours := make([]Hour, 0, len(out.ForecastHours))
	for _, h := range out.ForecastHours {
		hours = append(hours, Hour{
			Time:          h.Interval.StartTime,
			TemperatureC:  h.Temperature.Degrees,
			HumidityPct:   h.RelativeHumidity,
			RainChancePct: h.Precipitation.Probability.Percent,
			WindKph:       h.Wind.Speed.Value,
			Description:   h.WeatherCondition.Description.Text,
		})
	}
	return hours, nil
}

func (c *GoogleClient) fetch(ctx context.Context, endpoint string, out *googleResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, out) == nil && out.Error != nil {
			msg = out.Error.Message
		}
		err := fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("%w: decode response: %v", ErrUpstream, err))
	}
	return nil
}
