package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/observability"
)

const (
	envPrefix = "BE"

	defaultHomeDir           = ".blockengine"
	defaultConfigFile        = "config.props"
	defaultLoggerConfigFile  = "logger-config.yaml"
	defaultGenesisConfigFile = "genesis.yaml"
	defaultDBFile            = "blockengine.db"

	flagHome      = "home"
	flagConfig    = "config"
	flagMetrics   = "metrics"
	flagTracing   = "tracing"
	flagLoggerCfg = "logger-config"
	flagLogFile   = "log-file"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

type (
	LoggerFactory func(cfg *logger.LogConfiguration) (*slog.Logger, error)

	// baseConfiguration holds the settings shared by all the subcommands. The
	// home directory and the configuration file are resolved before anything
	// else as the rest of the settings may come from the configuration file.
	baseConfiguration struct {
		HomeDir    string
		CfgFile    string
		LogCfgFile string

		loggerBuilder LoggerFactory
		observe       *observability.Observability
	}
)

func (c *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&c.HomeDir, flagHome, "", fmt.Sprintf("home directory of the node, $%s (default %s)", envKey(flagHome), defaultHome()))
	flags.StringVar(&c.CfgFile, flagConfig, "", fmt.Sprintf("configuration file, relative paths are resolved against the home directory (default %s)", defaultConfigFile))
	flags.StringVar(&c.LogCfgFile, flagLoggerCfg, defaultLoggerConfigFile, "logger configuration file, relative paths are resolved against the home directory")

	flags.String(flagMetrics, "", "metrics exporter, one of: prometheus (disabled when empty)")
	flags.String(flagTracing, "", "trace exporter, one of: stdout (disabled when empty)")

	// no defaults for the logger flags, only changed flags override the logger configuration file
	flags.String(flagLogFile, "", "log output: file path, stdout, stderr or discard")
	flags.String(flagLogLevel, "", "log level: TRACE, DEBUG, INFO, WARN, ERROR or NONE")
	flags.String(flagLogFormat, "", "log format: text, json, console or ecs")
}

/*
load resolves the home directory and the configuration file, then fills the
flags of "cmd" which were not set on the command line from the environment
(BE_ prefixed, dashes replaced with underscores) or the configuration file.
*/
func (c *baseConfiguration) load(cmd *cobra.Command) error {
	c.HomeDir = firstNonEmpty(c.HomeDir, os.Getenv(envKey(flagHome)), defaultHome())
	c.CfgFile = c.inHome(firstNonEmpty(c.CfgFile, os.Getenv(envKey(flagConfig)), defaultConfigFile))

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	switch _, err := os.Stat(c.CfgFile); {
	case err == nil:
		v.SetConfigFile(c.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading configuration file %s: %w", c.CfgFile, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("checking configuration file: %w", err)
	}

	var errs []error
	flags := cmd.Flags()
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == flagHome || f.Name == flagConfig || !v.IsSet(f.Name) {
			return
		}
		if err := applyValue(flags, f, v); err != nil {
			errs = append(errs, fmt.Errorf("flag %q: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// applyValue sets the flag from viper, list values replace the slice flags as a whole.
func applyValue(flags *pflag.FlagSet, f *pflag.Flag, v *viper.Viper) error {
	sv, ok := f.Value.(pflag.SliceValue)
	if _, isString := v.Get(f.Name).(string); !ok || isString {
		return flags.Set(f.Name, v.GetString(f.Name))
	}
	if err := sv.Replace(v.GetStringSlice(f.Name)); err != nil {
		return err
	}
	f.Changed = true
	return nil
}

/*
newLogger builds the logger from the logger configuration file, the command
line flags take precedence over the file. Missing file is an error unless it
is the default one.
*/
func (c *baseConfiguration) newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	cfg := &logger.LogConfiguration{}
	if err := readYAML(c.LoggerCfgFilename(), c.LogCfgFile == defaultLoggerConfigFile, cfg); err != nil {
		return nil, err
	}

	for flag, dst := range map[string]*string{flagLogLevel: &cfg.Level, flagLogFormat: &cfg.Format, flagLogFile: &cfg.OutputPath} {
		if cmd.Flags().Changed(flag) {
			*dst = cmd.Flags().Lookup(flag).Value.String()
		}
	}

	log, err := c.loggerBuilder(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log, nil
}

func readYAML(filename string, optional bool, v any) error {
	f, err := os.Open(filepath.Clean(filename))
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening logger configuration file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decoding logger configuration (%s): %w", filename, err)
	}
	return nil
}

// LoggerCfgFilename returns the absolute location of the logger configuration file.
func (c *baseConfiguration) LoggerCfgFilename() string {
	return c.inHome(c.LogCfgFile)
}

// pathInHome returns filename when it is set, otherwise the default file in the home directory.
func (c *baseConfiguration) pathInHome(filename, defaultName string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(c.HomeDir, defaultName)
}

func (c *baseConfiguration) inHome(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(c.HomeDir, filename)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envKey(flag string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		panic("user home directory is not defined: " + err.Error())
	}
	return filepath.Join(dir, defaultHomeDir)
}
