package dism

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/rocketize/internal/prometheus"
)

// var alias for exec.CommandContext() that can be mocked for testing
var execCommand = exec.CommandContext

// DefaultBinary is looked up in PATH.
const DefaultBinary = "dism"

// Dism runs the Deployment Image Servicing and Management tool. Every call
// blocks until the process has exited.
type Dism struct {
	binary  string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// New returns a Dism runner for binary. A zero timeout disables the
// per-invocation deadline.
func New(binary string, timeout time.Duration, logger logrus.FieldLogger) *Dism {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dism{
		binary:  binary,
		timeout: timeout,
		logger:  logger,
	}
}

// AppxPackage describes an app package together with its dependencies.
type AppxPackage struct {
	PackagePath     string
	LicensePath     string
	Region          string
	DependencyPaths []string
}

// GetImageInfo lists the editions stored in imageFile.
func (d *Dism) GetImageInfo(ctx context.Context, imageFile string) (*ImageInfo, error) {
	out, err := d.run(ctx, "get-imageinfo", false,
		"/get-imageinfo",
		"/imagefile:"+imageFile,
	)
	if err != nil {
		return nil, err
	}
	return ParseImageInfo(out)
}

func (d *Dism) MountImage(ctx context.Context, imageFile string, index int, mountDir string) error {
	_, err := d.run(ctx, "mount-image", true,
		"/mount-image",
		"/imagefile:"+imageFile,
		"/index:"+strconv.Itoa(index),
		"/mountdir:"+mountDir,
	)
	return err
}

// UnmountImage unmounts mountDir, either committing the changes back into
// the image file or discarding them.
func (d *Dism) UnmountImage(ctx context.Context, mountDir string, commit bool) error {
	mode := "/discard"
	if commit {
		mode = "/commit"
	}
	_, err := d.run(ctx, "unmount-wim", true,
		"/unmount-wim",
		"/mountdir:"+mountDir,
		mode,
	)
	return err
}

// GetCapabilities lists the capabilities of the image mounted at image.
func (d *Dism) GetCapabilities(ctx context.Context, image string) (*CapabilityListing, error) {
	out, err := d.run(ctx, "get-capabilities", false,
		"/get-capabilities",
		"/image:"+image,
	)
	if err != nil {
		return nil, err
	}
	return ParseCapabilities(out)
}

func (d *Dism) RemoveCapability(ctx context.Context, image, name string) error {
	_, err := d.run(ctx, "remove-capability", true,
		"/remove-capability",
		"/image:"+image,
		"/capabilityname:"+name,
	)
	return err
}

func (d *Dism) AddProvisionedAppxPackage(ctx context.Context, image string, pkg AppxPackage) error {
	args := []string{
		"/add-provisionedappxpackage",
		"/image:" + image,
		"/packagepath:" + pkg.PackagePath,
		"/licensepath:" + pkg.LicensePath,
	}
	if pkg.Region != "" {
		args = append(args, "/region:"+pkg.Region)
	}
	for _, dep := range pkg.DependencyPaths {
		args = append(args, "/dependencypackagepath:"+dep)
	}
	_, err := d.run(ctx, "add-provisionedappxpackage", true, args...)
	return err
}

// run executes dism and returns its standard output with CRLF line endings
// normalized to LF. When stream is set the output is also logged line by
// line at debug level while the tool runs.
func (d *Dism) run(ctx context.Context, operation string, stream bool, args ...string) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args = append([]string{"/english"}, args...)
	logger := d.logger.WithField("operation", operation)
	logger.Debugf("running %s %s", d.binary, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := execCommand(ctx, d.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stream {
		w := logger.WriterLevel(logrus.DebugLevel)
		defer w.Close()
		cmd.Stdout = io.MultiWriter(&stdout, w)
	}

	started := time.Now()
	err := cmd.Run()
	prometheus.ToolInvocationDone(operation, time.Since(started).Seconds(), err)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return "", &ToolError{
			Operation: operation,
			Args:      args,
			ExitCode:  exitCode,
			Output:    normalize(stdout.String() + stderr.String()),
			Err:       err,
		}
	}

	return normalize(stdout.String()), nil
}

func normalize(output string) string {
	return strings.ReplaceAll(output, "\r\n", "\n")
}
