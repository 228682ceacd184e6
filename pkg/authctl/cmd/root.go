package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/authcoord/pkg/authctl/output"
	"github.com/telekom/authcoord/pkg/config"
	"github.com/telekom/authcoord/pkg/coordinator"
	"github.com/telekom/authcoord/pkg/oidcclient"
	"github.com/telekom/authcoord/pkg/system"
	"github.com/telekom/authcoord/pkg/telemetry"
	"github.com/telekom/authcoord/pkg/version"
)

const coordinatorTracer = "github.com/telekom/authcoord/pkg/coordinator"

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// ErrWriter receives prompts and notices so OutputWriter stays scriptable.
	ErrWriter io.Writer
	// Window replaces the terminal as the parent of interactive flows.
	Window coordinator.ParentWindow
	// Browser replaces the system browser launcher.
	Browser oidcclient.BrowserFunc
}

type runtimeState struct {
	configPath           string
	cfg                  *config.Config
	outputFormat         string
	logLevel             string
	tokenStorageOverride string
	verbose              bool
	writer               io.Writer
	errWriter            io.Writer
	window               coordinator.ParentWindow
	browser              oidcclient.BrowserFunc

	logger   *zap.Logger
	coord    *coordinator.Coordinator
	shutdown telemetry.ShutdownFunc
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrWriter,
		window:     cfg.Window,
		browser:    cfg.Browser,
	}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Silent-first OAuth2/OIDC token helper",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.errWriter == nil {
				rt.errWriter = os.Stderr
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.tokenStorageOverride == "" {
				rt.tokenStorageOverride = os.Getenv(config.EnvTokenStorage)
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv(config.EnvVerbose), "true")
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.Close(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewLoginCommand(),
		NewTokenCommand(),
		NewAccountsCommand(),
		NewLogoutCommand(),
		NewServeCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

// OutputFormat resolves --output against def.
func (rt *runtimeState) OutputFormat(def output.Format) (output.Format, error) {
	return output.ParseFormat(rt.outputFormat, def)
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPathValue())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config not found at %s: run 'authctl config init' first", rt.configPathValue())
		}
		return err
	}
	cfg.ApplyEnv()
	if rt.tokenStorageOverride != "" {
		cfg.TokenStorage = rt.tokenStorageOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", rt.configPathValue(), err)
	}
	rt.cfg = cfg
	return nil
}

// Logger is built on first use from --log-level, --verbose and the config.
func (rt *runtimeState) Logger() (*zap.Logger, error) {
	if rt.logger != nil {
		return rt.logger, nil
	}
	level := rt.logLevel
	if level == "" && rt.cfg != nil {
		level = rt.cfg.LogLevel
	}
	if rt.verbose {
		level = "debug"
	}
	logger, err := system.NewLogger(level)
	if err != nil {
		return nil, err
	}
	rt.logger = logger
	return logger, nil
}

// Coordinator wires the OIDC client, token store and telemetry from the
// loaded config. The result is cached for the lifetime of the command.
func (rt *runtimeState) Coordinator(ctx context.Context) (*coordinator.Coordinator, error) {
	if rt.coord != nil {
		return rt.coord, nil
	}
	if err := rt.EnsureConfigLoaded(); err != nil {
		return nil, err
	}
	logger, err := rt.Logger()
	if err != nil {
		return nil, err
	}
	log := logger.Sugar()

	window := rt.window
	if window == nil {
		window = NewTerminalWindow(os.Stdin, rt.ErrWriter())
	}
	coordCfg, err := rt.cfg.CoordinatorConfig(window)
	if err != nil {
		return nil, err
	}

	tokenPath := rt.cfg.TokenCacheFile
	if tokenPath == "" {
		tokenPath = config.DefaultTokenPath()
	}
	store, err := oidcclient.NewStore(rt.cfg.TokenStorage, tokenPath, oidcclient.DefaultKeyringService)
	if err != nil {
		return nil, err
	}
	client, err := oidcclient.New(oidcclient.Config{
		Authority:       rt.cfg.Authority,
		ClientID:        rt.cfg.ClientID,
		RedirectURI:     coordCfg.RedirectURI,
		CAFile:          rt.cfg.CAFile,
		InsecureSkipTLS: rt.cfg.InsecureSkipTLS,
		ExtraAuthParams: rt.cfg.ExtraAuthParams,
		Store:           store,
		Browser:         rt.resolveBrowser(),
		Out:             rt.ErrWriter(),
	})
	if err != nil {
		return nil, err
	}

	tp, shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        rt.cfg.Telemetry.Enabled,
		ServiceVersion: version.GetBuildInfo().Version,
		Exporter:       rt.cfg.Telemetry.Exporter,
		Endpoint:       rt.cfg.Telemetry.Endpoint,
		Insecure:       rt.cfg.Telemetry.Insecure,
		SamplingRate:   rt.cfg.Telemetry.SamplingRate,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt.shutdown = shutdown

	coord, err := coordinator.New(coordCfg, client,
		coordinator.WithLogger(log.With("component", "coordinator")),
		coordinator.WithTracer(tp.Tracer(coordinatorTracer)),
	)
	if err != nil {
		return nil, err
	}
	log.Debugw("Coordinator ready",
		"authority", rt.cfg.Authority,
		"tokenStorage", rt.cfg.TokenStorage,
		"presentation", coord.Presentation().String())
	rt.coord = coord
	return coord, nil
}

func (rt *runtimeState) resolveBrowser() oidcclient.BrowserFunc {
	if rt.browser != nil {
		return rt.browser
	}
	if strings.EqualFold(os.Getenv(config.EnvNoBrowser), "true") {
		return oidcclient.NoBrowser
	}
	return oidcclient.OpenBrowser
}

// Close flushes telemetry and the logger.
func (rt *runtimeState) Close(ctx context.Context) error {
	var err error
	if rt.shutdown != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		err = rt.shutdown(ctx)
		rt.shutdown = nil
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
	return err
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

// requestedScopes returns flagScopes, or the configured scopes when the flag
// was not given.
func requestedScopes(coord *coordinator.Coordinator, flagScopes []string) []string {
	if len(flagScopes) == 0 {
		return coord.Scopes()
	}
	return flagScopes
}
