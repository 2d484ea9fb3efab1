// Package customizer runs the whole customization of an installation
// medium: it finds the image file, checks that every edition in it is
// eligible, stages the app package and then customizes the editions one
// after another.
package customizer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/rocketize/internal/capabilities"
	"github.com/osbuild/rocketize/internal/catalog"
	"github.com/osbuild/rocketize/internal/dism"
	"github.com/osbuild/rocketize/internal/forceremove"
	"github.com/osbuild/rocketize/internal/medium"
	"github.com/osbuild/rocketize/internal/mount"
	"github.com/osbuild/rocketize/internal/prometheus"
	"github.com/osbuild/rocketize/internal/provision"
	"github.com/osbuild/rocketize/internal/strip"
)

// Tool is the part of *dism.Dism the customizer drives.
type Tool interface {
	GetImageInfo(ctx context.Context, imageFile string) (*dism.ImageInfo, error)
	mount.Mounter
	capabilities.Tool
	provision.Tool
}

// Stager is implemented by *stager.Stager.
type Stager interface {
	Stage(ctx context.Context) (provision.Package, error)
}

type Config struct {
	// ImagePath skips the drive scan when set.
	ImagePath string
	// MediumPath is the image file path relative to a drive root.
	MediumPath string
	// Roots are scanned instead of the drive roots when set.
	Roots         []string
	MountDir      string
	EditionPrefix string
	KeepRules     []capabilities.KeepRule
	StripEdge     bool
	StripTargets  []strip.Target
	// OnFailure runs while a failed image is still mounted.
	OnFailure mount.FailureObserver
}

// Summary of a successful run.
type Summary struct {
	Images              int
	CapabilitiesRemoved int
	PathsStripped       int
	Duration            time.Duration
}

type Customizer struct {
	cfg      Config
	tool     Tool
	stager   Stager
	pruner   *capabilities.Pruner
	injector *provision.Injector
	stripper *strip.Stripper
	logger   logrus.FieldLogger
}

func New(cfg Config, tool Tool, stager Stager, remover forceremove.Remover, logger logrus.FieldLogger) (*Customizer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.MediumPath == "" {
		cfg.MediumPath = medium.DefaultImagePath
	}
	if cfg.MountDir == "" {
		return nil, fmt.Errorf("mount directory is not set")
	}

	policy, err := capabilities.NewPolicy(cfg.KeepRules)
	if err != nil {
		return nil, err
	}

	c := &Customizer{
		cfg:      cfg,
		tool:     tool,
		stager:   stager,
		pruner:   capabilities.NewPruner(tool, policy, logger),
		injector: provision.NewInjector(tool, logger),
		logger:   logger,
	}

	if cfg.StripEdge {
		if remover == nil {
			remover = forceremove.New(logger)
		}
		c.stripper, err = strip.New(cfg.StripTargets, remover, logger)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Inspect locates the medium, reads its catalog and checks eligibility. The
// catalog is returned whenever it could be read, even if an edition is not
// eligible.
func (c *Customizer) Inspect(ctx context.Context) (*catalog.Catalog, error) {
	path, err := c.locate()
	if err != nil {
		return nil, &StepError{Step: StepLocateMedium, Err: err}
	}
	c.logger.Infof("Installation image found at %s", path)

	cat, err := c.readCatalog(ctx, path)
	if err != nil {
		return nil, &StepError{Step: StepReadCatalog, Err: err}
	}

	if err := cat.CheckEligibility(c.cfg.EditionPrefix); err != nil {
		return cat, &StepError{Step: StepValidateEligibility, Err: err}
	}
	return cat, nil
}

// Run customizes every edition of the medium. Nothing is mounted before all
// editions are known to be eligible and the package is staged. The first
// failing edition is discarded and ends the run.
func (c *Customizer) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()

	cat, err := c.Inspect(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.WithField("step", StepStagePackage).Info("Providing the app package")
	pkg, err := c.stager.Stage(ctx)
	if err != nil {
		return nil, &StepError{Step: StepStagePackage, Err: err}
	}

	summary := &Summary{}
	for _, img := range cat.Images {
		removed, stripped, err := c.customize(ctx, cat.SourcePath, img, pkg)
		summary.CapabilitiesRemoved += removed
		summary.PathsStripped += stripped
		if err != nil {
			return nil, &StepError{Step: StepCustomizeImage, Index: img.Index, Err: err}
		}
		summary.Images++
	}

	summary.Duration = time.Since(started)
	c.logger.WithField("step", StepSummarize).Infof("%d images customized in %s, %d capabilities removed, %d paths stripped",
		summary.Images, summary.Duration.Round(time.Second), summary.CapabilitiesRemoved, summary.PathsStripped)
	return summary, nil
}

func (c *Customizer) locate() (string, error) {
	if c.cfg.ImagePath != "" || c.cfg.Roots == nil {
		return medium.Resolve(c.cfg.ImagePath, c.cfg.MediumPath)
	}
	return medium.Locate(c.cfg.Roots, c.cfg.MediumPath)
}

func (c *Customizer) readCatalog(ctx context.Context, path string) (*catalog.Catalog, error) {
	info, err := c.tool.GetImageInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Build(path, info)
	if err != nil {
		return nil, err
	}
	for _, img := range cat.Images {
		c.logger.Infof("Index %d: %s (%s)", img.Index, img.Name, img.HumanSize())
	}
	return cat, nil
}

// customize mounts one edition and applies all changes to it. The changes
// are committed only if every one of them succeeded.
func (c *Customizer) customize(ctx context.Context, imageFile string, img catalog.Image, pkg provision.Package) (removed, stripped int, err error) {
	started := time.Now()
	logger := c.logger.WithFields(logrus.Fields{
		"step":        StepCustomizeImage,
		"image_index": img.Index,
		"edition":     img.Name,
	})
	logger.Info("Customizing")

	opts := mount.Options{
		ImageFile: imageFile,
		Index:     img.Index,
		Dir:       c.cfg.MountDir,
		Logger:    logger,
		OnFailure: c.cfg.OnFailure,
	}
	err = mount.With(ctx, c.tool, opts, func(ctx context.Context, root string) error {
		var err error
		if c.stripper != nil {
			logger.Info("Removing Edge")
			if stripped, err = c.stripper.Strip(root); err != nil {
				return err
			}
		}

		logger.Info("Removing capabilities")
		if removed, err = c.pruner.Prune(ctx, root); err != nil {
			return err
		}

		logger.Info("Provisioning the app package")
		return c.injector.Inject(ctx, root, pkg)
	})
	if err != nil {
		return removed, stripped, err
	}

	prometheus.ImageDone(started)
	logger.Infof("Customized in %s", time.Since(started).Round(time.Second))
	return removed, stripped, nil
}
