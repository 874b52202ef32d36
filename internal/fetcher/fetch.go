package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// Fetcher downloads provider playlists.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New creates a Fetcher. userAgent is the default; accounts may override it.
func New(userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// FetchCatalog downloads and parses an account's playlist. Every returned
// source carries the account's id.
func (f *Fetcher) FetchCatalog(ctx context.Context, account *models.Account) ([]models.Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, account.PlaylistURL, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	ua := account.UserAgent
	if ua == "" {
		ua = f.userAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ReadAll: %w", err)
	}
	sources, err := ParseM3U(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for i := range sources {
		sources[i].AccountID = account.ID
	}
	return sources, nil
}
