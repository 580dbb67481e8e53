package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type routingKey struct{}

// WithRoutingKey attaches the key used by the sticky hash strategy to
// requests sent through a gateway transport.
func WithRoutingKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, routingKey{}, key)
}

func routingKeyFrom(ctx context.Context) string {
	if k, ok := ctx.Value(routingKey{}).(string); ok {
		return k
	}
	return ""
}

// Transport adapts the gateway into an http.RoundTripper for service. The
// request's scheme and host are replaced with the chosen endpoint's BaseURL
// (a base path, if present, is prefixed to the request path).
//
// Throttling and 5xx responses are returned as errors so they reach the
// breaker; other responses are passed through with their bodies fully
// buffered, since the per-call deadline ends when the round trip returns.
func (g *Gateway) Transport(service string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{gw: g, service: service, base: base}
}

// Client returns an *http.Client whose requests go through Transport.
func (g *Gateway) Client(service string) *http.Client {
	return &http.Client{Transport: g.Transport(service, nil)}
}

type roundTripper struct {
	gw      *Gateway
	service string
	base    http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := rt.gw.Call(req.Context(), rt.service, routingKeyFrom(req.Context()), func(ctx context.Context, ep Endpoint) error {
		out := req.Clone(ctx)
		if ep.BaseURL != "" {
			if err := rewrite(out, ep.BaseURL); err != nil {
				return err
			}
		}

		r, err := rt.base.RoundTrip(out)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnavailable, ep.ID, err)
		}
		defer r.Body.Close()

		if cerr := ClassifyStatus(ep.ID, r.StatusCode, r.Header, rt.gw.now()); cerr != nil && r.StatusCode != http.StatusUnauthorized && r.StatusCode != http.StatusForbidden {
			_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
			return cerr
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, rt.gw.cfg.MaxResponseBytes))
		if err != nil {
			return fmt.Errorf("%w: %s: read body: %w", ErrUnavailable, ep.ID, err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func rewrite(req *http.Request, baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parse endpoint base url %q: %w", baseURL, err)
	}
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	req.Host = u.Host
	if p := strings.TrimSuffix(u.Path, "/"); p != "" && !strings.HasPrefix(req.URL.Path, p+"/") {
		req.URL.Path = p + req.URL.Path
		req.URL.RawPath = ""
	}
	return nil
}
