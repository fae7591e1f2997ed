package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/pluginhost/pkg/config"
	"github.com/platinummonkey/pluginhost/pkg/discovery"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/registry"

	_ "github.com/platinummonkey/pluginhost/pkg/providers/all" // built-in providers
)

// Version is stamped at build time with -ldflags "-X .../pkg/cli.Version=..."
var Version = "dev"

// Output formats accepted by -o
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Options are the global flags
type Options struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string
}

// app carries what PersistentPreRunE loads to the subcommands
type app struct {
	opts Options
	cfg  *config.Config
	log  *logrus.Logger
}

// NewRootCommand creates the pluginhost command tree
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pluginhost",
		Short: "Discover, start and supervise platform providers",
		Long: `pluginhost discovers provider plugins by category, validates their
configuration and host API compatibility, starts them in dependency order
and keeps them supervised behind an admin API.`,
		Version:           Version,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigFile, "config", "c", "", "YAML config file (default $"+config.EnvConfigFile+")")
	flags.StringVar(&a.opts.LogLevel, "log-level", "", "override the configured log level")
	flags.StringVar(&a.opts.LogFormat, "log-format", "", "override the configured log format (text, json)")

	root.AddCommand(
		newServeCommand(a),
		newCheckCommand(a),
		newListCommand(a),
		newGraphCommand(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) load(cmd *cobra.Command) error {
	path := a.opts.ConfigFile
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.opts.LogLevel != "" {
		cfg.Observability.LogLevel = a.opts.LogLevel
	}
	if a.opts.LogFormat != "" {
		cfg.Observability.LogFormat = a.opts.LogFormat
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// engine reads the built-in index plus any manifest directories and resolves
// references against linked-in providers first, then Go plugin files.
func (a *app) engine() *discovery.Engine {
	indexes := []discovery.Index{discovery.Builtin()}
	if len(a.cfg.Plugins.ManifestDirs) > 0 {
		indexes = append(indexes, discovery.NewManifestIndex(a.cfg.Plugins.ManifestDirs, a.log))
	}
	return discovery.NewEngine(a.log,
		discovery.WithIndex(indexes...),
		discovery.WithResolver(discovery.ChainResolver{
			discovery.DefaultSymbols(),
			discovery.GoPluginResolver{Dirs: a.cfg.Plugins.PluginDirs},
		}),
	)
}

func (a *app) registry(extra ...registry.Option) (*registry.Registry, error) {
	opts, err := a.cfg.RegistryOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, registry.WithDiscovery(a.engine()), registry.WithLogger(a.log))
	return registry.New(append(opts, extra...)...), nil
}

func checkOutput(format string) error {
	switch format {
	case OutputTable, OutputJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q: must be %s or %s", format, OutputTable, OutputJSON)
}
