// Package config binds zibuild's global flags to viper keys so a config
// file (zibuild.yaml) and command-line flags can both supply them, in the
// pattern of bitswalk-ldf's src/common/cli config helpers.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of global options for one invocation.
type Config struct {
	PkgbuildDir      string
	BuildDir         string
	LogDir           string
	Accept           string
	Verbose          bool
	Clobber          bool
	FailFast         bool
	ParallelDownload int
	ParallelBuild    int
}

// RegisterFlags adds zibuild's global flags to cmd's persistent flag set
// and binds each one to a matching viper key, so `zibuild.yaml` and flags
// both resolve through the same precedence (flag > env > config file >
// default).
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("pkgbuild-dir", ".", "directory containing recipe files")
	flags.String("build-dir", "build", "directory to stage builds and artifacts in")
	flags.String("log-dir", "", "reserved, currently unused: each recipe's logs go to its own log/ directory under build-dir")
	flags.String("accept", "all", "comma-separated list of accepted license identifiers, or \"all\"")
	flags.Bool("verbose", false, "enable debug logging and disable the terminal progress UI")
	flags.Bool("clobber", false, "overwrite existing downloads/artifacts instead of resuming/skipping")
	flags.Bool("fail-fast", false, "cancel outstanding work as soon as one recipe fails")
	flags.Int("parallel-download", 0, "max concurrent downloads (0 = auto)")
	flags.Int("parallel-build", 0, "max concurrent builds (0 = auto)")

	for _, name := range []string{
		"pkgbuild-dir", "build-dir", "log-dir", "accept", "verbose",
		"clobber", "fail-fast", "parallel-download", "parallel-build",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("ZIBUILD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Load reads zibuild.yaml (if present, searching ".", "$HOME/.config/zibuild"
// and "/etc/zibuild") and returns the resolved Config.
func Load() (*Config, error) {
	viper.SetConfigName("zibuild")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(os.ExpandEnv("$HOME/.config/zibuild"))
	viper.AddConfigPath("/etc/zibuild")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading zibuild.yaml: %w", err)
		}
	}

	cfg := &Config{
		PkgbuildDir:      viper.GetString("pkgbuild-dir"),
		BuildDir:         viper.GetString("build-dir"),
		LogDir:           viper.GetString("log-dir"),
		Accept:           viper.GetString("accept"),
		Verbose:          viper.GetBool("verbose"),
		Clobber:          viper.GetBool("clobber"),
		FailFast:         viper.GetBool("fail-fast"),
		ParallelDownload: viper.GetInt("parallel-download"),
		ParallelBuild:    viper.GetInt("parallel-build"),
	}
	if cfg.LogDir == "" {
		cfg.LogDir = cfg.BuildDir
	}
	return cfg, nil
}

// AcceptedLicenses splits Accept on commas into a membership set, trimming
// whitespace around each entry.
func (c *Config) AcceptedLicenses() map[string]bool {
	set := make(map[string]bool)
	for _, entry := range strings.Split(c.Accept, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			set[entry] = true
		}
	}
	return set
}
