// Package app implements the filterfs command line.
package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
	"github.com/filterfs/filterfs/pkg/utils"
)

const (
	configFlag    = "config"
	logLevelFlag  = "log-level"
	cacheSizeFlag = "cache-size"
	propertyFlag  = "property"
)

// Version is set at build time with -ldflags "-X ...app.Version=v1.2.3".
var Version = "dev"

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	cacheSize  int
	property   string
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, configFlag, "", "YAML configuration file")
	fs.StringVar(&o.logLevel, logLevelFlag, "", "log level (DEBUG, INFO, WARN, ERROR)")
	fs.IntVarP(&o.cacheSize, cacheSizeFlag, "c", 0, "maximum number of cached nodes (0 never evicts)")
	fs.StringVarP(&o.property, propertyFlag, "p", "", "filter command; {} is replaced by the path, exit 0 keeps the entry")
}

// NewRootCommand builds the filterfs command tree.
func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "filterfs",
		Short: "Filtering overlay filesystem",
		Long: `filterfs exposes a directory through FUSE, showing only the entries
for which a user-supplied command succeeds.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	o.addFlags(root.PersistentFlags())

	root.AddCommand(
		newMountCommand(o),
		newLsCommand(o),
		newStatCommand(o),
		newCatCommand(o),
		newConfigCommand(o),
		newVersionCommand(),
	)
	return root
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then FILTERFS_* variables, then flags the user actually set.
func (o *options) loadConfig(flags *pflag.FlagSet) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if o.configPath != "" {
		if err := cfg.LoadFromFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if flags.Changed(logLevelFlag) {
		cfg.Global.LogLevel = o.logLevel
	}
	if flags.Changed(cacheSizeFlag) {
		cfg.Cache.MaxNodes = o.cacheSize
	}
	if flags.Changed(propertyFlag) {
		cfg.Filter.Command = o.property
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging starts zap. Inspection commands write their results to
// stdout, so they only log when a log file is configured.
func setupLogging(cfg *config.Configuration, toStdout bool) error {
	if !toStdout && cfg.Global.LogFile == "" {
		return nil
	}
	return utils.InitLogger(cfg.Global.LogLevel, cfg.Global.LogFile)
}

// processCredentials returns the identity of the running process.
func processCredentials() types.Credentials {
	cred := types.Credentials{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())}
	if groups, err := os.Getgroups(); err == nil {
		for _, g := range groups {
			cred.Groups = append(cred.Groups, uint32(g))
		}
	}
	return cred
}

// PrintHint writes the recommendation for err's error code, if err carries one.
func PrintHint(w io.Writer, err error) {
	if fe, ok := errors.As(err); ok {
		fmt.Fprintf(w, "Hint: %s\n", fe.GetRecommendation())
	}
}
