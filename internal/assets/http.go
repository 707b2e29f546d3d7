/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/friendsincode/tablemix/internal/models"
)

// HTTPResolver downloads http(s) URLs. With a catalog base URL set it also
// resolves bare asset ids as {base}/{asset_id}.
type HTTPResolver struct {
	client   *http.Client
	baseURL  string
	maxBytes int64
}

// NewHTTPResolver creates an HTTP resolver. client may be nil.
func NewHTTPResolver(client *http.Client, catalogBaseURL string, maxBytes int64) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPResolver{client: client, baseURL: strings.TrimRight(catalogBaseURL, "/"), maxBytes: maxBytes}
}

// Fetch implements Resolver.
func (r *HTTPResolver) Fetch(ctx context.Context, ref models.SourceRef) ([]byte, error) {
	target := ""
	switch {
	case strings.HasPrefix(ref.URL, "http://"), strings.HasPrefix(ref.URL, "https://"):
		target = ref.URL
	case r.baseURL != "" && ref.AssetID != "":
		target = r.baseURL + "/" + url.PathEscape(ref.AssetID)
	default:
		return nil, ErrUnsupported
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}
	return readLimited(resp.Body, r.maxBytes)
}
