// Package provision injects a provisioned app package, together with its
// dependency packages, into a mounted image.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/osbuild/rocketize/internal/dism"
)

// Tool is implemented by *dism.Dism.
type Tool interface {
	AddProvisionedAppxPackage(ctx context.Context, image string, pkg dism.AppxPackage) error
}

// Package locates the app package on the host. Dependencies are the regular
// files directly in DependencyDir whose extension equals DependencyExt,
// compared case-insensitively.
type Package struct {
	PackagePath   string
	LicensePath   string
	DependencyDir string
	DependencyExt string
	Region        string
}

// Validate checks that the package, the license and the dependency
// directory exist.
func (p Package) Validate() error {
	var errs []error
	check := func(what, path string, dir bool) {
		if path == "" {
			errs = append(errs, fmt.Errorf("%s path is not set", what))
			return
		}
		fi, err := os.Stat(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
			return
		}
		if fi.IsDir() != dir {
			kind := "a regular file"
			if dir {
				kind = "a directory"
			}
			errs = append(errs, fmt.Errorf("%s %s is not %s", what, path, kind))
		}
	}
	check("package", p.PackagePath, false)
	check("license", p.LicensePath, false)
	check("dependency directory", p.DependencyDir, true)
	return errors.Join(errs...)
}

// Dependencies lists the dependency packages sorted by file name.
func (p Package) Dependencies() ([]string, error) {
	entries, err := os.ReadDir(p.DependencyDir)
	if err != nil {
		return nil, fmt.Errorf("cannot list dependency directory: %w", err)
	}

	var deps []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), p.DependencyExt) {
			continue
		}
		deps = append(deps, filepath.Join(p.DependencyDir, e.Name()))
	}
	slices.Sort(deps)
	return deps, nil
}

type Injector struct {
	tool   Tool
	logger logrus.FieldLogger
}

func NewInjector(tool Tool, logger logrus.FieldLogger) *Injector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Injector{tool: tool, logger: logger}
}

// Inject provisions pkg into the image mounted at mountRoot with a single
// tool invocation.
func (i *Injector) Inject(ctx context.Context, mountRoot string, pkg Package) error {
	deps, err := pkg.Dependencies()
	if err != nil {
		return err
	}

	i.logger.WithField("package", filepath.Base(pkg.PackagePath)).
		Infof("Provisioning package with %d dependencies", len(deps))
	err = i.tool.AddProvisionedAppxPackage(ctx, mountRoot, dism.AppxPackage{
		PackagePath:     pkg.PackagePath,
		LicensePath:     pkg.LicensePath,
		Region:          pkg.Region,
		DependencyPaths: deps,
	})
	if err != nil {
		return fmt.Errorf("cannot provision %s: %w", filepath.Base(pkg.PackagePath), err)
	}
	return nil
}
