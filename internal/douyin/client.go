package douyin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWebBase = "https://live.douyin.com"
	defaultAppBase = "https://webcast.amemv.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	requestTimeout = 15 * time.Second
	maxBodyBytes   = 8 << 20
)

// ResolverConfig holds resolver endpoints and transport. Zero values fall
// back to the production webcast hosts and a default client.
type ResolverConfig struct {
	// WebBaseURL hosts the room page and the web enter API.
	WebBaseURL string
	// AppBaseURL hosts the reflow (app) API.
	AppBaseURL string
	HTTPClient *http.Client
}

// Resolver turns a room URL into room metadata and per-quality stream
// endpoints. One resolver instance is safe to share across capture
// sessions: resolution state is read-only.
type Resolver struct {
	webBase string
	appBase string
	client  *http.Client
	logger  *zap.Logger
}

// NewResolver creates a resolver with the given config.
func NewResolver(cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if cfg.WebBaseURL == "" {
		cfg.WebBaseURL = defaultWebBase
	}
	if cfg.AppBaseURL == "" {
		cfg.AppBaseURL = defaultAppBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		webBase: strings.TrimSuffix(cfg.WebBaseURL, "/"),
		appBase: strings.TrimSuffix(cfg.AppBaseURL, "/"),
		client:  cfg.HTTPClient,
		logger:  logger,
	}
}

// get performs one GET with browser-like headers and returns the bounded body.
func (r *Resolver) get(ctx context.Context, rawURL, cookies string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Referer", r.webBase+"/")
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// bootstrapCookies fetches the site root and returns a ttwid cookie header.
// The web enter API rejects requests without it. Best effort: an empty
// string is returned when the cookie is not granted.
func (r *Resolver) bootstrapCookies(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.webBase+"/", nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	for _, c := range resp.Cookies() {
		if c.Name == "ttwid" && c.Value != "" {
			return "ttwid=" + c.Value
		}
	}
	return ""
}

// webRIDFromURL extracts the room handle from a live room URL such as
// https://live.douyin.com/901113773259 (query and trailing slashes ignored).
func webRIDFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	rid := segments[len(segments)-1]
	if rid == "" {
		return "", fmt.Errorf("room url %q carries no room id", raw)
	}
	return rid, nil
}
