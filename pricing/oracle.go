// Package pricing supplies reference-currency valuations for native-currency
// amounts. Prices are fixed-point big integers; no floating point is used
// anywhere in the conversion path.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidPrice indicates the supplier reported a non-positive or
	// malformed price. Callers must treat the quote as unusable.
	ErrInvalidPrice = errors.New("pricing: invalid price")

	// ErrStaleQuote indicates the supplier's quote fell outside the
	// configured freshness window.
	ErrStaleQuote = errors.New("pricing: stale quote")
)

// PriceQuote is one reference-currency price for a single unit of native
// currency, expressed as Price / 10^Decimals.
type PriceQuote struct {
	Price     *big.Int
	Decimals  uint8
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Decimals: q.Decimals, Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Validate rejects quotes with a missing or non-positive price.
func (q PriceQuote) Validate() error {
	if q.Price == nil || q.Price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// PriceSource resolves the current price for the provided base/quote currency
// pair. Implementations own staleness guarantees; the converter never caches.
type PriceSource interface {
	LatestPrice(base, quote string) (PriceQuote, error)
}

// StaticSource reports a fixed price. Used in tests and air-gapped
// deployments where the operator pins the rate by configuration.
type StaticSource struct {
	quote PriceQuote
	nowFn func() time.Time
}

// NewStaticSource pins the supplied price at the given fixed-point precision.
func NewStaticSource(price *big.Int, decimals uint8) *StaticSource {
	pinned := big.NewInt(0)
	if price != nil {
		pinned = new(big.Int).Set(price)
	}
	return &StaticSource{
		quote: PriceQuote{Price: pinned, Decimals: decimals, Source: "static"},
		nowFn: time.Now,
	}
}

// SetPrice replaces the pinned price. Primarily intended for tests.
func (s *StaticSource) SetPrice(price *big.Int) {
	if s == nil {
		return
	}
	if price == nil {
		s.quote.Price = big.NewInt(0)
		return
	}
	s.quote.Price = new(big.Int).Set(price)
}

// LatestPrice implements the PriceSource interface.
func (s *StaticSource) LatestPrice(base, quote string) (PriceQuote, error) {
	if s == nil {
		return PriceQuote{}, fmt.Errorf("pricing: static source not configured")
	}
	out := s.quote.Clone()
	out.Timestamp = s.nowFn()
	if err := out.Validate(); err != nil {
		return PriceQuote{}, err
	}
	return out, nil
}

// HTTPDoer abstracts the HTTP client used by remote sources so tests can
// inject canned responses.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource adapts a simple-price JSON endpoint of the form
// {"<asset>": {"<vs>": <price>, "last_updated_at": <unix>}}.
type HTTPSource struct {
	client   HTTPDoer
	endpoint string
	asset    string
	vs       string
	decimals uint8
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewHTTPSource constructs a remote price source. A nil client falls back to
// http.DefaultClient; maxAge of zero disables the freshness check.
func NewHTTPSource(client HTTPDoer, endpoint, asset, vs string, decimals uint8, maxAge time.Duration) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		asset:    strings.ToLower(strings.TrimSpace(asset)),
		vs:       strings.ToLower(strings.TrimSpace(vs)),
		decimals: decimals,
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// LatestPrice implements the PriceSource interface. Each call performs a
// fresh fetch; there is no caching or retry.
func (s *HTTPSource) LatestPrice(base, quote string) (PriceQuote, error) {
	if s == nil || s.endpoint == "" {
		return PriceQuote{}, fmt.Errorf("pricing: http source not configured")
	}
	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("ids", s.asset)
	values.Set("vs_currencies", s.vs)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()

	resp, err := s.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("pricing: feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("pricing: decode feed payload: %w", err)
	}
	entry, ok := payload[s.asset]
	if !ok {
		return PriceQuote{}, fmt.Errorf("pricing: feed missing asset %s", s.asset)
	}
	rawPrice, ok := entry[s.vs]
	if !ok {
		return PriceQuote{}, fmt.Errorf("pricing: feed missing quote currency %s", s.vs)
	}
	price, err := ParseDecimal(rawPrice.String(), s.decimals)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}

	ts := time.Time{}
	if rawTs, exists := entry["last_updated_at"]; exists {
		if parsed, err := rawTs.Int64(); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	now := s.nowFn()
	if ts.IsZero() {
		ts = now.UTC()
	}
	if s.maxAge > 0 && now.Sub(ts) > s.maxAge {
		return PriceQuote{}, fmt.Errorf("%w: observed at %s", ErrStaleQuote, ts.Format(time.RFC3339))
	}

	out := PriceQuote{Price: price, Decimals: s.decimals, Timestamp: ts, Source: "feed"}
	if err := out.Validate(); err != nil {
		return PriceQuote{}, err
	}
	return out, nil
}

// ParseDecimal converts a decimal string such as "2153.42" into a fixed-point
// integer scaled by 10^decimals. It rejects malformed input and values with
// more fractional digits than the target precision can carry.
func ParseDecimal(value string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty decimal value")
	}
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		trimmed = trimmed[1:]
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole = trimmed[:idx]
		frac = trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("value %q exceeds %d decimal places", value, decimals)
	}
	if !isAllDigits(whole) || (frac != "" && !isAllDigits(frac)) {
		return nil, fmt.Errorf("malformed decimal %q", value)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	parsed, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("malformed decimal %q", value)
	}
	if negative {
		parsed.Neg(parsed)
	}
	return parsed, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
