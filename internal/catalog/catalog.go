// Package catalog holds the validated list of editions found in an image
// file.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/samber/lo"

	"github.com/osbuild/rocketize/internal/dism"
)

var (
	ErrPathMismatch = errors.New("image info describes a different image file")
	ErrNotEligible  = errors.New("image file contains ineligible editions")
)

// Image is one edition. Catalog images are never modified after Build.
type Image struct {
	Index       int
	Name        string
	Description string
	SizeBytes   uint64
}

func (img Image) HumanSize() string {
	return datasize.ByteSize(img.SizeBytes).HR()
}

type Catalog struct {
	ToolVersion string
	SourcePath  string
	Images      []Image
}

type PathMismatchError struct {
	Queried  string
	Reported string
}

func (e *PathMismatchError) Error() string {
	return fmt.Sprintf("queried image file %q but dism reported %q", e.Queried, e.Reported)
}

func (e *PathMismatchError) Is(target error) bool {
	return target == ErrPathMismatch
}

// Build creates a catalog from parsed image info. queriedPath is the image
// file dism was asked about; the report has to name the same file.
func Build(queriedPath string, info *dism.ImageInfo) (*Catalog, error) {
	if info == nil {
		return nil, fmt.Errorf("no image info for %s", queriedPath)
	}
	if !samePath(info.ImageFile, queriedPath) {
		return nil, &PathMismatchError{Queried: queriedPath, Reported: info.ImageFile}
	}

	seen := make(map[int]bool, len(info.Images))
	images := make([]Image, 0, len(info.Images))
	for _, img := range info.Images {
		if img.Index < 1 {
			return nil, fmt.Errorf("image %q has invalid index %d", img.Name, img.Index)
		}
		if seen[img.Index] {
			return nil, fmt.Errorf("index %d reported more than once", img.Index)
		}
		seen[img.Index] = true
		images = append(images, Image(img))
	}

	return &Catalog{
		ToolVersion: info.ToolVersion,
		SourcePath:  info.ImageFile,
		Images:      images,
	}, nil
}

type EligibilityError struct {
	Prefix     string
	Ineligible []Image
}

func (e *EligibilityError) Error() string {
	names := lo.Map(e.Ineligible, func(img Image, _ int) string {
		return fmt.Sprintf("%d:%q", img.Index, img.Name)
	})
	return fmt.Sprintf("editions not starting with %q: %s", e.Prefix, strings.Join(names, ", "))
}

func (e *EligibilityError) Is(target error) bool {
	return target == ErrNotEligible
}

// Eligible reports whether both the name and the description of img start
// with prefix.
func Eligible(img Image, prefix string) bool {
	return strings.HasPrefix(img.Name, prefix) && strings.HasPrefix(img.Description, prefix)
}

// CheckEligibility returns an *EligibilityError unless every image is
// eligible. It does not modify the catalog.
func (c *Catalog) CheckEligibility(prefix string) error {
	ineligible := lo.Reject(c.Images, func(img Image, _ int) bool {
		return Eligible(img, prefix)
	})
	if len(ineligible) > 0 {
		return &EligibilityError{Prefix: prefix, Ineligible: ineligible}
	}
	return nil
}

func (c *Catalog) TotalSize() uint64 {
	return lo.SumBy(c.Images, func(img Image) uint64 {
		return img.SizeBytes
	})
}
