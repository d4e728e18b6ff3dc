package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/finshlink/internal/logger"
	"codeberg.org/mutker/finshlink/internal/metric"
)

const (
	defaultStockHost    = "https://sapi.k780.com/"
	defaultStockIndex   = "1010"
	defaultStockRefresh = 30 * time.Minute
	stockRequestTimeout = 10 * time.Second
)

// stockIndexes are the supported global index ids
var stockIndexes = map[string]bool{
	"1010": true, // SSE Composite
	"1011": true, // SZSE Component
	"1012": true, // CSI 300
	"1013": true, // ChiNext
	"1014": true, // SME
	"1015": true, // Hang Seng
	"1016": true,
	"1017": true,
	"1111": true, // Dow Jones
	"1112": true, // S&P 500
	"1114": true, // NASDAQ
}

type StockConfig struct {
	AppKey  string
	Sign    string
	Host    string
	Index   string
	Refresh time.Duration
}

type stockQuote struct {
	LastPrice   string `json:"last_price"`
	RiseFallPer string `json:"rise_fall_per"`
}

type stockResponse struct {
	Success string `json:"success"`
	Result  struct {
		Lists map[string]stockQuote `json:"lists"`
	} `json:"result"`
}

// StockSource keeps a cached index quote refreshed on its own schedule,
// same shape as the weather source. Index quotes move slowly enough that
// a long refresh interval is fine.
type StockSource struct {
	cfg    StockConfig
	client *http.Client

	mu     sync.Mutex
	cached *metric.RawStock
}

func NewStockSource(cfg StockConfig) (*StockSource, error) {
	if cfg.Index == "" {
		cfg.Index = defaultStockIndex
	}
	if !stockIndexes[cfg.Index] {
		return nil, errFactory.WithData(ErrIndexUnknown, cfg.Index)
	}

	if cfg.Host == "" {
		cfg.Host = defaultStockHost
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = defaultStockRefresh
	}

	return &StockSource{
		cfg:    cfg,
		client: &http.Client{Timeout: stockRequestTimeout},
	}, nil
}

func (*StockSource) Name() string { return "stock" }

func (s *StockSource) Run(ctx context.Context) {
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

func (s *StockSource) Collect(context.Context) (metric.RawSources, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		return metric.RawSources{}, errFactory.New(ErrSourceUnavailable)
	}

	snapshot := *s.cached

	return metric.RawSources{Stock: &snapshot}, nil
}

func (s *StockSource) refresh(ctx context.Context) {
	raw, err := s.fetch(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("index", s.cfg.Index).Msg("Stock refresh failed")

		return
	}

	s.mu.Lock()
	s.cached = raw
	s.mu.Unlock()
}

func (s *StockSource) fetch(ctx context.Context) (*metric.RawStock, error) {
	form := url.Values{
		"app":    {"finance.globalindex"},
		"inxids": {s.cfg.Index},
		"appkey": {s.cfg.AppKey},
		"sign":   {s.cfg.Sign},
		"format": {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Host, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errFactory.Wrap(ErrAPIRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrAPIRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errFactory.WithData(ErrAPIResponse, resp.StatusCode)
	}

	var body stockResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errFactory.Wrap(ErrAPIResponse, err)
	}
	if body.Success != "1" {
		return nil, errFactory.WithData(ErrAPIResponse, body.Success)
	}

	quote, ok := body.Result.Lists[s.cfg.Index]
	if !ok {
		return nil, errFactory.WithData(ErrAPIResponse, "index missing from response")
	}

	last, err := strconv.ParseFloat(quote.LastPrice, 64)
	if err != nil {
		return nil, errFactory.Wrap(ErrAPIResponse, err)
	}

	indexID, err := strconv.ParseFloat(s.cfg.Index, 64)
	if err != nil {
		return nil, errFactory.Wrap(ErrAPIResponse, err)
	}

	raw := &metric.RawStock{
		Index:     metric.Raw(indexID),
		Last:      metric.Raw(last),
		UpdatedAt: time.Now().Unix(),
	}
	if pct, err := strconv.ParseFloat(strings.TrimSuffix(quote.RiseFallPer, "%"), 64); err == nil {
		raw.ChangePct = metric.Raw(pct)
	}

	return raw, nil
}
