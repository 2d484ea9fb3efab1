package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osbuild/rocketize/internal/catalog"
	"github.com/osbuild/rocketize/internal/common"
	"github.com/osbuild/rocketize/internal/customizer"
	"github.com/osbuild/rocketize/internal/dism"
	"github.com/osbuild/rocketize/internal/forceremove"
	"github.com/osbuild/rocketize/internal/mount"
	"github.com/osbuild/rocketize/internal/prometheus"
	"github.com/osbuild/rocketize/internal/stager"
)

const (
	exitOK = iota
	exitFailure
	exitMediumNotFound
	exitCatalog
	exitStaging
	exitCustomize
)

// var alias for dism.New() that can be mocked for testing
var newTool = func(binary string, timeout time.Duration, logger logrus.FieldLogger) customizer.Tool {
	return dism.New(binary, timeout, logger)
}

type options struct {
	configFile string
	envFile    string
	verbose    bool
	logFormat  string
	imagePath  string
	mountDir   string
	offline    bool
	keepEdge   bool
	noPause    bool
	dumpConfig bool
}

type app struct {
	opts   options
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *rocketizeConfig
	logger *logrus.Logger
	log    logrus.FieldLogger
	runID  string
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rocketize",
		Short: "Customize the editions of a Windows 11 installation medium",
		Long: "Finds sources/install.wim on the attached drives and, for every edition in it,\n" +
			"removes Edge and the optional capabilities that are not kept and provisions\n" +
			"the winget app installer.",
		Version:       common.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCustomize(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.opts.configFile, "config", "c", "rocketize.toml", "configuration file, defaults are used if it does not exist")
	flags.StringVar(&a.opts.envFile, "env-file", ".env", "file with environment overrides, ignored if it does not exist")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "log at debug level, including the dism output")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "log format, text or json")
	flags.StringVarP(&a.opts.imagePath, "image", "i", "", "image file to use instead of scanning the drives")
	flags.StringVar(&a.opts.mountDir, "mount-dir", "", "directory the editions are mounted to, must not exist")
	flags.BoolVar(&a.opts.offline, "offline", false, "do not download the app package, use the package directory as it is")

	rootCmd.Flags().BoolVar(&a.opts.keepEdge, "keep-edge", false, "do not remove Edge")
	rootCmd.Flags().BoolVar(&a.opts.noPause, "no-pause", false, "do not wait for enter before discarding a failed edition")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the editions of the medium and whether they can be customized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd.Context())
		},
	}
	infoCmd.Flags().BoolVar(&a.opts.dumpConfig, "toml", false, "print the effective configuration")

	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Download and unpack the app package only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStage(cmd.Context())
		},
	}

	rootCmd.AddCommand(infoCmd, stageCmd)
	rootCmd.SetIn(a.stdin)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)
	return rootCmd
}

// setup loads the configuration, applies the command line on top of it and
// creates the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.opts.configFile, a.opts.envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("image") {
		cfg.ImagePath = a.opts.imagePath
	}
	if flags.Changed("mount-dir") {
		cfg.MountDir = a.opts.mountDir
	}
	if flags.Changed("offline") {
		cfg.Package.Offline = a.opts.offline
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.opts.logFormat
	}
	if a.opts.verbose {
		cfg.Log.Level = "debug"
	}
	if a.opts.keepEdge {
		cfg.Strip.Edge = false
	}
	if a.opts.noPause {
		cfg.PauseOnFailure = false
	}

	logger, err := newLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.runID = common.GenerateRunID()
	a.log = logger.WithField(common.RunIDKey, a.runID)
	cmd.SetContext(common.WithRunID(cmd.Context(), a.runID))
	return nil
}

func newLogger(cfg *logConfig, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.AddHook(&common.BuildHook{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log format needs to be text or json. Got: %s.", cfg.Format)
	}
	return logger, nil
}

func (a *app) newCustomizer() (*customizer.Customizer, error) {
	tool := newTool(a.cfg.Dism.Binary, a.cfg.Dism.Timeout, a.log)
	st := stager.New(a.cfg.stagerConfig(), a.log)

	cfg := customizer.Config{
		ImagePath:     a.cfg.ImagePath,
		MediumPath:    a.cfg.MediumPath,
		MountDir:      a.cfg.MountDir,
		EditionPrefix: a.cfg.EditionPrefix,
		KeepRules:     a.cfg.Capabilities.Keep,
		StripEdge:     a.cfg.Strip.Edge,
		StripTargets:  a.cfg.Strip.Targets,
	}
	if a.cfg.PauseOnFailure {
		cfg.OnFailure = pauseOnFailure(a.stdin, a.stdout)
	}
	return customizer.New(cfg, tool, st, forceremove.New(a.log), a.log)
}

func (a *app) runCustomize(ctx context.Context) error {
	c, err := a.newCustomizer()
	if err != nil {
		return err
	}

	summary, err := c.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\n%d images rocketized.\n", summary.Images)
	return nil
}

func (a *app) runInfo(ctx context.Context) error {
	if a.opts.dumpConfig {
		if err := toml.NewEncoder(a.stdout).Encode(a.cfg); err != nil {
			return err
		}
	}

	c, err := a.newCustomizer()
	if err != nil {
		return err
	}
	cat, err := c.Inspect(ctx)
	if cat != nil {
		printCatalog(a.stdout, cat, a.cfg.EditionPrefix)
	}
	return err
}

func (a *app) runStage(ctx context.Context) error {
	pkg, err := stager.New(a.cfg.stagerConfig(), a.log).Stage(ctx)
	if err != nil {
		return &customizer.StepError{Step: customizer.StepStagePackage, Err: err}
	}
	deps, err := pkg.Dependencies()
	if err != nil {
		return &customizer.StepError{Step: customizer.StepStagePackage, Err: err}
	}
	fmt.Fprintf(a.stdout, "Package:      %s\nLicense:      %s\nDependencies: %d in %s\n",
		pkg.PackagePath, pkg.LicensePath, len(deps), pkg.DependencyDir)
	return nil
}

func printCatalog(w io.Writer, cat *catalog.Catalog, prefix string) {
	fmt.Fprintf(w, "Image file: %s\nDISM:       %s\n\n", cat.SourcePath, cat.ToolVersion)
	fmt.Fprintf(w, "%5s  %-40s  %10s  %s\n", "INDEX", "NAME", "SIZE", "ELIGIBLE")
	for _, img := range cat.Images {
		eligible := "yes"
		if !catalog.Eligible(img, prefix) {
			eligible = "no"
		}
		fmt.Fprintf(w, "%5d  %-40s  %10s  %s\n", img.Index, img.Name, img.HumanSize(), eligible)
	}
	fmt.Fprintf(w, "\n%d images, %s\n", len(cat.Images), datasize.ByteSize(cat.TotalSize()).HR())
}

// pauseOnFailure keeps a failed edition mounted until the operator presses
// enter, so that the mount directory can be inspected.
func pauseOnFailure(in io.Reader, out io.Writer) mount.FailureObserver {
	reader := bufio.NewReader(in)
	return func(err error) {
		fmt.Fprintf(out, "\n%v\nThe edition is still mounted and will be discarded.\npress [enter] to continue...", err)
		_, _ = reader.ReadString('\n')
		fmt.Fprintln(out)
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var stepErr *customizer.StepError
	if !errors.As(err, &stepErr) {
		return exitFailure
	}
	switch stepErr.Step {
	case customizer.StepLocateMedium:
		return exitMediumNotFound
	case customizer.StepReadCatalog, customizer.StepValidateEligibility:
		return exitCatalog
	case customizer.StepStagePackage:
		return exitStaging
	case customizer.StepCustomizeImage:
		return exitCustomize
	default:
		return exitFailure
	}
}

func (a *app) initSentry() (flush func()) {
	if a.cfg == nil || a.cfg.Sentry.DSN == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         a.cfg.Sentry.DSN,
		Environment: a.cfg.Sentry.Environment,
		Release:     common.BuildCommit,
	})
	if err != nil {
		a.log.Warnf("Sentry disabled: %v", err)
		return nil
	}
	return func() { sentry.Flush(2 * time.Second) }
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	flush := a.initSentry()

	if a.cfg != nil && a.cfg.Metrics.Textfile != "" {
		if werr := prometheus.WriteTextfile(a.cfg.Metrics.Textfile); werr != nil {
			a.log.Errorf("Cannot write metrics: %v", werr)
		}
	}

	if err != nil {
		if flush != nil {
			sentry.CaptureException(err)
			flush()
		}
		if a.log != nil {
			a.log.WithField("exit_code", exitCode(err)).Error(err)
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
