package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/squashcat/squashcat/ingest"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "squashcat",
	Short: "Reconcile squashfs archives against a research data catalog",
	Long: `squashcat mounts read-only squashfs archive images, walks their
contents, and matches every discovered file against the catalog,
registering what is new and linking what already exists.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default squashcat.yaml in the working directory)")
	flags.String("mount-root", "/mnt/squashfs", "directory archives are mounted under")
	flags.String("mount-cmd", "/usr/local/bin/squashfuse", "external mount utility")
	flags.Duration("mount-timeout", 30*time.Second, "bound on a single mount invocation")
	flags.String("source-root", "", "directory watched for new archive images")
	flags.String("db", "catalog.db", "catalog database path")
	flags.Duration("scan-interval", 5*time.Minute, "period between background scans")
	flags.Int("workers", 2, "maximum concurrent parse jobs")
	flags.String("log-dir", "", "directory for rotated log files (console only when empty)")

	viper.BindPFlag("mount_root", flags.Lookup("mount-root"))         //nolint:errcheck
	viper.BindPFlag("mount_cmd", flags.Lookup("mount-cmd"))           //nolint:errcheck
	viper.BindPFlag("mount_timeout", flags.Lookup("mount-timeout"))   //nolint:errcheck
	viper.BindPFlag("source_root", flags.Lookup("source-root"))       //nolint:errcheck
	viper.BindPFlag("db", flags.Lookup("db"))                         //nolint:errcheck
	viper.BindPFlag("scan_interval", flags.Lookup("scan-interval"))   //nolint:errcheck
	viper.BindPFlag("workers", flags.Lookup("workers"))               //nolint:errcheck
	viper.BindPFlag("log_dir", flags.Lookup("log-dir"))               //nolint:errcheck

	viper.SetEnvPrefix("SQUASHCAT")
	viper.AutomaticEnv()
}

// loadConfig merges defaults, config file, environment, and flags
// into the explicit config struct the pipeline takes.
func loadConfig() (ingest.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("squashcat")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/squashcat")
	}
	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; flags and env carry defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return ingest.Config{}, err
		}
	}

	cfg := ingest.DefaultConfig()
	cfg.MountRoot = viper.GetString("mount_root")
	cfg.MountCmd = viper.GetString("mount_cmd")
	cfg.MountTimeout = viper.GetDuration("mount_timeout")
	cfg.SourceRoot = viper.GetString("source_root")
	cfg.DBPath = viper.GetString("db")
	cfg.ScanInterval = viper.GetDuration("scan_interval")
	cfg.Workers = viper.GetInt("workers")
	cfg.LogDir = viper.GetString("log_dir")
	if parsers := viper.GetStringMapString("parsers"); len(parsers) > 0 {
		cfg.Parsers = parsers
	}

	if err := cfg.Validate(); err != nil {
		return ingest.Config{}, err
	}
	return cfg, nil
}
