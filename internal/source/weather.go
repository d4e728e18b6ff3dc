package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/finshlink/internal/logger"
	"codeberg.org/mutker/finshlink/internal/metric"
)

const (
	defaultWeatherHost    = "https://devapi.qweather.com"
	defaultWeatherRefresh = 10 * time.Minute
	weatherRequestTimeout = 10 * time.Second

	// UnknownIcon is the condition code sent when the provider gives
	// nothing usable
	UnknownIcon = 999
)

// weatherCityIDs maps city names to provider location ids
var weatherCityIDs = map[string]string{
	"beijing":   "101010100",
	"shanghai":  "101020100",
	"tianjin":   "101030100",
	"chongqing": "101040100",
	"guangzhou": "101280101",
	"shenzhen":  "101280601",
	"hangzhou":  "101210101",
	"nanjing":   "101190101",
	"chengdu":   "101270101",
	"wuhan":     "101200101",
	"xian":      "101110101",
	"harbin":    "101050101",
	"shenyang":  "101070101",
	"qingdao":   "101120201",
	"suzhou":    "101190401",
}

type WeatherConfig struct {
	APIKey  string
	Host    string
	City    string
	Refresh time.Duration
}

type weatherNow struct {
	Icon string `json:"icon"`
	Temp string `json:"temp"`
}

type weatherResponse struct {
	Code string     `json:"code"`
	Now  weatherNow `json:"now"`
}

// WeatherSource keeps a cached current-conditions reading refreshed on
// its own schedule. Collect never touches the network; a dispatch cycle
// only ever sees the cache.
type WeatherSource struct {
	cfg    WeatherConfig
	cityID string
	client *http.Client

	mu     sync.Mutex
	cached *metric.RawWeather
}

func NewWeatherSource(cfg WeatherConfig) (*WeatherSource, error) {
	cityID, ok := weatherCityIDs[strings.ToLower(cfg.City)]
	if !ok {
		return nil, errFactory.WithData(ErrCityUnknown, cfg.City)
	}

	if cfg.Host == "" {
		cfg.Host = defaultWeatherHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Refresh <= 0 {
		cfg.Refresh = defaultWeatherRefresh
	}

	return &WeatherSource{
		cfg:    cfg,
		cityID: cityID,
		client: &http.Client{Timeout: weatherRequestTimeout},
	}, nil
}

func (*WeatherSource) Name() string { return "weather" }

// Run refreshes the cache until ctx is cancelled, fetching once up
// front so the first dispatch cycles are not all absent
func (s *WeatherSource) Run(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.cfg.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *WeatherSource) Collect(context.Context) (metric.RawSources, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		return metric.RawSources{}, errFactory.New(ErrSourceUnavailable)
	}

	snapshot := *s.cached

	return metric.RawSources{Weather: &snapshot}, nil
}

func (s *WeatherSource) refresh(ctx context.Context) {
	raw, err := s.fetch(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("city", s.cfg.City).Msg("Weather refresh failed")

		return
	}

	s.mu.Lock()
	s.cached = raw
	s.mu.Unlock()
}

func (s *WeatherSource) fetch(ctx context.Context) (*metric.RawWeather, error) {
	url := fmt.Sprintf("%s/v7/weather/now?location=%s&key=%s", s.cfg.Host, s.cityID, s.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errFactory.Wrap(ErrAPIRequestFailed, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrAPIRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errFactory.WithData(ErrAPIResponse, resp.StatusCode)
	}

	var body weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errFactory.Wrap(ErrAPIResponse, err)
	}
	if body.Code != "200" {
		return nil, errFactory.WithData(ErrAPIResponse, body.Code)
	}

	icon, err := strconv.ParseFloat(body.Now.Icon, 64)
	if err != nil {
		icon = UnknownIcon
	}

	raw := &metric.RawWeather{
		Condition: metric.Raw(icon),
		UpdatedAt: time.Now().Unix(),
	}
	if temp, err := strconv.ParseFloat(body.Now.Temp, 64); err == nil {
		raw.Temperature = metric.Raw(temp)
	}

	return raw, nil
}
