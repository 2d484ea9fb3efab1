// Package strip deletes the Edge browser and its WebView runtime from a
// mounted image.
package strip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/rocketize/internal/forceremove"
	"github.com/osbuild/rocketize/internal/prometheus"
)

// Target selects the entries of Dir, relative to the mount root, whose
// names match Pattern. Matching ignores case.
type Target struct {
	Dir     string `toml:"dir"`
	Pattern string `toml:"pattern"`
}

var DefaultTargets = []Target{
	{Dir: "Program Files (x86)/Microsoft", Pattern: "Edge*"},
	{Dir: "Windows/WinSxS", Pattern: "amd64_microsoft-edge-webview_31bf3856ad364e35*"},
	{Dir: "Windows/System32", Pattern: "Microsoft-Edge-Webview"},
}

type compiledTarget struct {
	Target
	glob glob.Glob
}

type Stripper struct {
	targets []compiledTarget
	remover forceremove.Remover
	logger  logrus.FieldLogger
}

func New(targets []Target, remover forceremove.Remover, logger logrus.FieldLogger) (*Stripper, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Stripper{remover: remover, logger: logger}
	for _, t := range targets {
		g, err := glob.Compile(strings.ToLower(t.Pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q for %s: %w", t.Pattern, t.Dir, err)
		}
		s.targets = append(s.targets, compiledTarget{Target: t, glob: g})
	}
	return s, nil
}

// Matches returns the paths below mountRoot selected by the targets, in
// target order. Target directories missing from the image, or present as
// something other than a directory, are skipped.
func (s *Stripper) Matches(mountRoot string) ([]string, error) {
	var paths []string
	for _, t := range s.targets {
		dir, err := securejoin.SecureJoin(mountRoot, t.Dir)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve %s: %w", t.Dir, err)
		}
		fi, err := os.Stat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debugf("%s does not exist, skipping", t.Dir)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			s.logger.Debugf("%s is not a directory, skipping", t.Dir)
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if t.glob.Match(strings.ToLower(e.Name())) {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}
	return paths, nil
}

// Strip removes every match and returns the number of removed paths. The
// first failure stops the stripping.
func (s *Stripper) Strip(mountRoot string) (int, error) {
	paths, err := s.Matches(mountRoot)
	if err != nil {
		return 0, err
	}

	for i, p := range paths {
		rel, _ := filepath.Rel(mountRoot, p)
		s.logger.WithField("path", rel).Info("Removing")
		if err := s.remover.RemoveAll(p); err != nil {
			return i, fmt.Errorf("cannot remove %s: %w", rel, err)
		}
		prometheus.PathsStripped.Inc()
	}
	return len(paths), nil
}
