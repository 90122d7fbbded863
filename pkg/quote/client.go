// Package quote fetches currency exchange rates against the Brazilian real
// from the public AwesomeAPI service.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public AwesomeAPI endpoint.
const DefaultBaseURL = "https://economia.awesomeapi.com.br"

// currencies maps the supported ISO codes to display names.
var currencies = map[string]string{
	"USD": "US Dollar",
	"EUR": "Euro",
	"GBP": "British Pound",
	"JPY": "Japanese Yen",
	"CHF": "Swiss Franc",
	"CAD": "Canadian Dollar",
	"AUD": "Australian Dollar",
	"CNY": "Chinese Yuan",
	"ARS": "Argentine Peso",
	"CLP": "Chilean Peso",
	"MXN": "Mexican Peso",
}

// aliases maps colloquial currency names, including the Portuguese ones
// customers actually type, to ISO codes.
var aliases = map[string]string{
	"dollar":            "USD",
	"dolar":             "USD",
	"us dollar":         "USD",
	"euro":              "EUR",
	"pound":             "GBP",
	"libra":             "GBP",
	"yen":               "JPY",
	"iene":              "JPY",
	"franc":             "CHF",
	"franco":            "CHF",
	"canadian dollar":   "CAD",
	"australian dollar": "AUD",
	"yuan":              "CNY",
	"argentine peso":    "ARS",
	"chilean peso":      "CLP",
	"mexican peso":      "MXN",
}

// Quote is one currency rate against BRL.
type Quote struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Normalize resolves a user-supplied currency reference to a supported ISO
// code. The second return reports whether the currency is supported.
func Normalize(input string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if code, ok := aliases[s]; ok {
		return code, true
	}
	code := strings.ToUpper(s)
	if _, ok := currencies[code]; ok {
		return code, true
	}
	return "", false
}

// SupportedCodes returns the supported ISO codes, sorted.
func SupportedCodes() []string {
	codes := make([]string, 0, len(currencies))
	for code := range currencies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Client talks to the quote service.
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewClient creates a quote client. Zero values select the public endpoint
// and a 10 second timeout.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// Latest returns the current rate for a supported currency against BRL.
func (c *Client) Latest(ctx context.Context, currency string) (*Quote, error) {
	code, ok := Normalize(currency)
	if !ok {
		return nil, fmt.Errorf("unsupported currency %q, available: %s",
			currency, strings.Join(SupportedCodes(), ", "))
	}

	url := fmt.Sprintf("%s/json/last/%s-BRL", c.baseURL, code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote service returned status %d", resp.StatusCode)
	}

	// The service keys the payload by the concatenated pair, e.g. "USDBRL".
	var payload map[string]struct {
		Bid       string `json:"bid"`
		Ask       string `json:"ask"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	raw, ok := payload[code+"BRL"]
	if !ok {
		return nil, fmt.Errorf("quote response missing pair %s-BRL", code)
	}

	bid, err := strconv.ParseFloat(raw.Bid, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bid in quote response: %w", err)
	}
	ask, err := strconv.ParseFloat(raw.Ask, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ask in quote response: %w", err)
	}

	q := &Quote{Code: code, Name: currencies[code], Bid: bid, Ask: ask}
	if ts, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil {
		q.Timestamp = time.Unix(ts, 0)
	}

	c.logger.Debug().Str("currency", code).Float64("bid", bid).Msg("Quote fetched")

	return q, nil
}
