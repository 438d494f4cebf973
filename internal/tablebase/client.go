package tablebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single oracle query.
const DefaultTimeout = 7 * time.Second

// ClientConfig configures the oracle HTTP client.
type ClientConfig struct {
	BaseURL string        // e.g. https://tablebase.example.org/standard
	Timeout time.Duration // per-query timeout, DefaultTimeout if zero
	Logger  zerolog.Logger
}

// Client performs HTTP GET queries against the tablebase endpoint.
// It never retries; retry policy belongs to the caller.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates an oracle client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tablebase base URL required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		timeout: timeout,
		http:    &http.Client{},
		log:     cfg.Logger,
	}, nil
}

// Query fetches the oracle evaluation for a FEN. The context carries the
// caller's cancellation; the client adds its own timeout on top. Non-2xx
// statuses map to ErrInvalidQuery (4xx) or ErrUnavailable (5xx); malformed
// bodies map to ErrSchema.
func (c *Client) Query(ctx context.Context, fenStr string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "?fen=" + url.QueryEscape(fenStr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn().Str("fen", fenStr).Dur("elapsed", time.Since(start)).Msg("oracle query timed out")
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.log.Warn().Err(err).Str("fen", fenStr).Msg("oracle query failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status %d", ErrInvalidQuery, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	res, err := decodeResult(resp.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("fen", fenStr).Msg("oracle response rejected")
		return nil, err
	}

	c.log.Debug().
		Str("fen", fenStr).
		Str("category", string(res.Category)).
		Int("moves", len(res.Moves)).
		Dur("elapsed", time.Since(start)).
		Msg("oracle query completed")
	return res, nil
}

// wireResult mirrors the oracle JSON with pointer fields so that missing
// required fields are detectable instead of silently zero-valued.
type wireResult struct {
	WDL      *int       `json:"wdl"`
	Category *string    `json:"category"`
	DTZ      *int       `json:"dtz"`
	DTM      *int       `json:"dtm"`
	Moves    []wireMove `json:"moves"`
}

type wireMove struct {
	SAN      *string `json:"san"`
	UCI      *string `json:"uci"`
	WDL      *int    `json:"wdl"`
	Category *string `json:"category"`
	DTZ      *int    `json:"dtz"`
	DTM      *int    `json:"dtm"`
}

func decodeResult(r io.Reader) (*Result, error) {
	var wire wireResult
	dec := json.NewDecoder(r)
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	if wire.WDL == nil {
		return nil, fmt.Errorf("%w: missing wdl", ErrSchema)
	}
	if wire.Category == nil {
		return nil, fmt.Errorf("%w: missing category", ErrSchema)
	}
	cat := Category(*wire.Category)
	if !cat.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrSchema, *wire.Category)
	}

	res := &Result{
		WDL:      *wire.WDL,
		Category: cat,
		DTZ:      wire.DTZ,
		DTM:      wire.DTM,
		Moves:    make([]MoveEval, 0, len(wire.Moves)),
	}

	for i, wm := range wire.Moves {
		if wm.SAN == nil || wm.UCI == nil {
			return nil, fmt.Errorf("%w: move %d missing notation", ErrSchema, i)
		}
		if wm.WDL == nil || wm.Category == nil {
			return nil, fmt.Errorf("%w: move %s missing evaluation", ErrSchema, *wm.UCI)
		}
		mcat := Category(*wm.Category)
		if !mcat.Valid() {
			return nil, fmt.Errorf("%w: move %s has unknown category %q", ErrSchema, *wm.UCI, *wm.Category)
		}
		res.Moves = append(res.Moves, MoveEval{
			SAN:      *wm.SAN,
			UCI:      *wm.UCI,
			WDL:      *wm.WDL,
			Category: mcat,
			DTZ:      wm.DTZ,
			DTM:      wm.DTM,
		})
	}

	return res, nil
}
