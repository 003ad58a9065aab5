// Package probe queries remote services and turns the answer into a model.ProbeResult.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"
)

var ErrUnsupportedVariant = errors.New("unsupported variant")

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 10 * time.Second

// Prober is implemented by Client and by test fakes.
type Prober interface {
	Probe(ctx context.Context, address string, variant model.Variant) (model.ProbeResult, error)
}

type Config struct {
	// StatusAPI is the base URL of the JSON status API used for java/bedrock targets.
	StatusAPI string
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
	now  func() time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.StatusAPI) == "" {
		cfg.StatusAPI = "https://api.mcstatus.io/v2/status"
	}
	cfg.StatusAPI = strings.TrimRight(cfg.StatusAPI, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = "serverwatch/1.0"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "probe")),
		now:  time.Now,
	}
}

// Probe runs the variant-specific check bounded by the configured timeout.
// A reachable-but-offline service is reported as an unhealthy result with a nil error.
func (c *Client) Probe(ctx context.Context, address string, variant model.Variant) (model.ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	address = strings.TrimSpace(address)
	if address == "" {
		return model.ProbeResult{}, errors.New("empty address")
	}

	switch variant {
	case model.VariantJava, model.VariantBedrock:
		return c.probeStatusAPI(ctx, address, variant)
	case model.VariantTCP:
		return c.probeTCP(ctx, address)
	case model.VariantHTTP:
		return c.probeHTTP(ctx, address)
	default:
		return model.ProbeResult{}, fmt.Errorf("%w: %q", ErrUnsupportedVariant, variant)
	}
}

type statusResponse struct {
	Online  bool `json:"online"`
	Players *struct {
		Online int `json:"online"`
		Max    int `json:"max"`
	} `json:"players"`
	Version *struct {
		NameClean string `json:"name_clean"`
		Name      string `json:"name"`
		Protocol  int    `json:"protocol"`
	} `json:"version"`
	MOTD *struct {
		Clean string `json:"clean"`
	} `json:"motd"`
}

func (c *Client) probeStatusAPI(ctx context.Context, address string, variant model.Variant) (model.ProbeResult, error) {
	u := c.cfg.StatusAPI + "/" + string(variant) + "/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.ProbeResult{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("status api: %w", err)
	}
	defer resp.Body.Close()
	latency := c.now().Sub(start)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.ProbeResult{}, fmt.Errorf("status api: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var sr statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return model.ProbeResult{}, fmt.Errorf("status api: decode: %w", err)
	}

	r := model.ProbeResult{Healthy: sr.Online, CheckedAt: c.now()}
	if !sr.Online {
		r.Error = "server offline"
		return r, nil
	}
	r.Latency = latency
	if sr.Players != nil {
		r.Occupancy = model.Occupancy{Current: sr.Players.Online, Max: sr.Players.Max}
	}
	if sr.Version != nil {
		r.ProtocolVersion = sr.Version.Protocol
		r.Version = sr.Version.NameClean
		if r.Version == "" {
			r.Version = sr.Version.Name
		}
	}
	if sr.MOTD != nil {
		r.MOTD = strings.TrimSpace(sr.MOTD.Clean)
	}
	return r, nil
}

func (c *Client) probeTCP(ctx context.Context, address string) (model.ProbeResult, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return model.ProbeResult{}, fmt.Errorf("tcp address must be host:port: %w", err)
	}
	var d net.Dialer
	start := c.now()
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return model.ProbeResult{}, err
	}
	latency := c.now().Sub(start)
	_ = conn.Close()
	return model.ProbeResult{Healthy: true, Latency: latency, CheckedAt: c.now()}, nil
}

func (c *Client) probeHTTP(ctx context.Context, address string) (model.ProbeResult, error) {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return model.ProbeResult{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return model.ProbeResult{}, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	latency := c.now().Sub(start)

	r := model.ProbeResult{Healthy: resp.StatusCode < 500, Latency: latency, CheckedAt: c.now()}
	if !r.Healthy {
		r.Error = resp.Status
	}
	return r, nil
}
