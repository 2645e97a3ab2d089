// Package provider supplies the per-provider login page the handshake hands
// to the browser, with the ticket and app id substituted into placeholder
// tokens.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Placeholder tokens replaced in fetched page content.
const (
	TokenPlaceholder = "SIA_TOKEN_GOES_HERE"
	AppIDPlaceholder = "APPID_GOES_HERE"
)

// Source produces raw login page content for a provider.
type Source interface {
	Page(ctx context.Context, providerID string) (string, error)
}

// Substitute injects the ticket and app id into page content.
func Substitute(page, siaToken, appID string) string {
	page = strings.ReplaceAll(page, TokenPlaceholder, siaToken)
	return strings.ReplaceAll(page, AppIDPlaceholder, appID)
}

// StaticSource serves one fixed page regardless of provider. Used for tests
// and as the fallback while provider pages are hosted elsewhere.
type StaticSource struct {
	HTML string
}

const defaultPage = "<html><head><title>Temp Test Content</title></head><body><h3>Hello, World</h3></body></html>"

func NewStaticSource() *StaticSource {
	return &StaticSource{HTML: defaultPage}
}

func (s *StaticSource) Page(_ context.Context, _ string) (string, error) {
	return s.HTML, nil
}

// WebSource fetches {webhost}/sso/{provider}.html.
type WebSource struct {
	webhost string
	client  *http.Client
}

func NewWebSource(webhost string) *WebSource {
	return &WebSource{
		webhost: strings.TrimSuffix(webhost, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebSource) Page(ctx context.Context, providerID string) (string, error) {
	url := fmt.Sprintf("%s/sso/%s.html", s.webhost, providerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch provider page %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch provider page %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read provider page %s: %w", url, err)
	}
	return string(body), nil
}
