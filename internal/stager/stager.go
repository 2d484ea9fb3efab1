// Package stager downloads the winget release assets and prepares the app
// package that is provisioned into every image.
package stager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	rh "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/osbuild/rocketize/internal/provision"
)

const (
	DefaultReleaseURL    = "https://api.github.com/repos/microsoft/winget-cli/releases/latest"
	DefaultPackageName   = "Microsoft.DesktopAppInstaller_8wekyb3d8bbwe.msixbundle"
	DefaultDependencies  = "DesktopAppInstaller_Dependencies"
	DefaultArchitecture  = "x64"
	DefaultDependencyExt = ".appx"
	DefaultRegion        = "all"

	licenseSuffix = "_License1.xml"
	userAgent     = "rocketize"
)

type Config struct {
	ReleaseURL string
	// downloaded assets end up here
	Dir          string
	PackageName  string
	Dependencies string
	Architecture string
	Region       string
	// skip the network and use what is already in Dir
	Offline      bool
	Concurrency  int
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func (c *Config) setDefaults() {
	if c.ReleaseURL == "" {
		c.ReleaseURL = DefaultReleaseURL
	}
	if c.Dir == "" {
		c.Dir = "winget"
	}
	if c.PackageName == "" {
		c.PackageName = DefaultPackageName
	}
	if c.Dependencies == "" {
		c.Dependencies = DefaultDependencies
	}
	if c.Architecture == "" {
		c.Architecture = DefaultArchitecture
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = time.Second
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = 30 * time.Second
	}
}

type Stager struct {
	cfg    Config
	client *rh.Client
	logger logrus.FieldLogger
}

func New(cfg Config, logger logrus.FieldLogger) *Stager {
	cfg.setDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := rh.NewClient()
	client.Logger = NewRHLeveledLogger(logger)
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax

	return &Stager{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Stage makes sure the package and its dependencies are available locally
// and returns them.
func (s *Stager) Stage(ctx context.Context) (provision.Package, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0755); err != nil {
		return provision.Package{}, err
	}

	if s.cfg.Offline {
		s.logger.Info("Offline, using the package directory as it is")
	} else {
		if err := s.fetch(ctx); err != nil {
			return provision.Package{}, err
		}
	}

	pkg, err := s.Package()
	if err != nil {
		return provision.Package{}, err
	}
	if err := pkg.Validate(); err != nil {
		return provision.Package{}, err
	}
	s.logger.Info("Package available")
	return pkg, nil
}

func (s *Stager) fetch(ctx context.Context) error {
	release, err := s.LatestRelease(ctx)
	if err != nil {
		return err
	}
	s.logger.Infof("Latest release is %s with %d assets", release.TagName, len(release.Assets))

	fetched, err := s.download(ctx, release.Assets)
	if err != nil {
		return err
	}

	// archives from an earlier run whose extraction did not finish are
	// extracted again
	isFetched := make(map[string]bool, len(fetched))
	for _, name := range fetched {
		isFetched[name] = true
	}
	for _, a := range release.Assets {
		if !strings.EqualFold(filepath.Ext(a.Name), ".zip") {
			continue
		}
		path := filepath.Join(s.cfg.Dir, a.Name)
		if _, err := os.Stat(strings.TrimSuffix(path, filepath.Ext(path))); err == nil && !isFetched[a.Name] {
			continue
		}
		dest, err := extract(path)
		if err != nil {
			return err
		}
		s.logger.Infof("Extracted %s to %s", a.Name, dest)
	}
	return nil
}

// Package describes the staged package without checking that it exists.
// The license is the only file in the package directory ending in
// _License1.xml.
func (s *Stager) Package() (provision.Package, error) {
	licenses, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*"+licenseSuffix))
	if err != nil {
		return provision.Package{}, err
	}
	switch len(licenses) {
	case 0:
		return provision.Package{}, fmt.Errorf("no license file (*%s) in %s", licenseSuffix, s.cfg.Dir)
	case 1:
	default:
		slices.Sort(licenses)
		return provision.Package{}, fmt.Errorf("more than one license file in %s: %s", s.cfg.Dir, strings.Join(licenses, ", "))
	}

	return provision.Package{
		PackagePath:   filepath.Join(s.cfg.Dir, s.cfg.PackageName),
		LicensePath:   licenses[0],
		DependencyDir: filepath.Join(s.cfg.Dir, s.cfg.Dependencies, s.cfg.Architecture),
		DependencyExt: DefaultDependencyExt,
		Region:        s.cfg.Region,
	}, nil
}
