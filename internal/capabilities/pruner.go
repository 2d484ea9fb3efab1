package capabilities

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/rocketize/internal/dism"
	"github.com/osbuild/rocketize/internal/prometheus"
)

// Tool is implemented by *dism.Dism.
type Tool interface {
	GetCapabilities(ctx context.Context, image string) (*dism.CapabilityListing, error)
	RemoveCapability(ctx context.Context, image, name string) error
}

type Pruner struct {
	tool   Tool
	policy *Policy
	logger logrus.FieldLogger
}

func NewPruner(tool Tool, policy *Policy, logger logrus.FieldLogger) *Pruner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pruner{
		tool:   tool,
		policy: policy,
		logger: logger,
	}
}

// Plan lists the capabilities of the image mounted at mountRoot and returns
// the removable ones in report order.
func (p *Pruner) Plan(ctx context.Context, mountRoot string) ([]dism.Capability, error) {
	listing, err := p.tool.GetCapabilities(ctx, mountRoot)
	if err != nil {
		return nil, fmt.Errorf("cannot list capabilities: %w", err)
	}

	removable := lo.Filter(listing.Capabilities, func(c dism.Capability, _ int) bool {
		return p.policy.Removable(c)
	})
	p.logger.Infof("%d of %d capabilities will be removed", len(removable), len(listing.Capabilities))
	return removable, nil
}

// Prune removes every removable capability one by one and returns how many
// were removed. The first failing removal stops the pruning; capabilities
// after it are not attempted.
func (p *Pruner) Prune(ctx context.Context, mountRoot string) (int, error) {
	removable, err := p.Plan(ctx, mountRoot)
	if err != nil {
		return 0, err
	}

	for i, c := range removable {
		logger := p.logger.WithField("capability", c.ID)
		logger.Infof("Removing capability (%d/%d)", i+1, len(removable))
		if err := p.tool.RemoveCapability(ctx, mountRoot, c.ID); err != nil {
			return i, fmt.Errorf("cannot remove capability %s: %w", c.ID, err)
		}
		prometheus.CapabilitiesRemoved.Inc()
	}

	return len(removable), nil
}
