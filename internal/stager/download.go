package stager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/osbuild/rocketize/internal/prometheus"
)

// download fetches every asset missing from the package directory and
// returns the names of the ones it fetched.
func (s *Stager) download(ctx context.Context, assets []Asset) ([]string, error) {
	var missing []Asset
	for _, a := range assets {
		dst := filepath.Join(s.cfg.Dir, a.Name)
		_, err := os.Stat(dst)
		if err == nil {
			s.logger.Infof("%s found", a.Name)
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, a)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, a := range missing {
		g.Go(func() error {
			return s.downloadAsset(gctx, a)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(missing))
	for _, a := range missing {
		names = append(names, a.Name)
	}
	return names, nil
}

// downloadAsset writes to a temporary file first so that an interrupted
// download is never mistaken for a complete one.
func (s *Stager) downloadAsset(ctx context.Context, a Asset) error {
	logger := s.logger.WithField("asset", a.Name)
	logger.Info("Downloading")

	resp, err := s.get(ctx, a.DownloadURL)
	if err != nil {
		return fmt.Errorf("cannot download %s: %w", a.Name, err)
	}
	defer resp.Body.Close()

	partial := filepath.Join(s.cfg.Dir, "."+uuid.NewString()+".partial")
	f, err := os.Create(partial)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && a.Size > 0 && n != a.Size {
		err = fmt.Errorf("got %d bytes, expected %d", n, a.Size)
	}
	if err != nil {
		os.Remove(partial)
		return fmt.Errorf("cannot download %s: %w", a.Name, err)
	}

	if err := os.Rename(partial, filepath.Join(s.cfg.Dir, a.Name)); err != nil {
		os.Remove(partial)
		return err
	}
	prometheus.AssetsDownloaded.Inc()
	logger.Infof("Downloaded %d bytes", n)
	return nil
}
