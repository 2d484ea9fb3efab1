package stager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	rh "github.com/hashicorp/go-retryablehttp"
)

// Release is the subset of a GitHub release the stager needs.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

func (s *Stager) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := rh.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s: %s", url, resp.Status, body)
	}
	return resp, nil
}

// LatestRelease fetches the release description from the configured URL.
func (s *Stager) LatestRelease(ctx context.Context) (*Release, error) {
	resp, err := s.get(ctx, s.cfg.ReleaseURL)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch release: %w", err)
	}
	defer resp.Body.Close()

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("cannot decode release: %w", err)
	}
	for _, a := range release.Assets {
		if a.Name == "" || a.Name != filepath.Base(a.Name) || a.Name == ".." {
			return nil, fmt.Errorf("release %s has an invalid asset name %q", release.TagName, a.Name)
		}
	}
	return &release, nil
}
