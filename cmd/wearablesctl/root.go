package main

import (
	"github.com/spf13/cobra"
)

const encryptionKeyEnv = "WEARABLES_ENCRYPTION_KEY"

var (
	configPath      string
	databaseDriver  string
	databaseDSN     string
	logLevel        string
	encryptionKey   string
	encryptionKeyID string
)

var rootCmd = &cobra.Command{
	Use:          "wearablesctl",
	Short:        "Operate the wearables provider integration service",
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&databaseDriver, "driver", driverSQLite, "database driver (postgres or sqlite)")
	flags.StringVar(&databaseDSN, "dsn", "file:wearables.db?cache=shared", "database connection string")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	flags.StringVar(&encryptionKey, "encryption-key", "", "base64 credential key (defaults to $"+encryptionKeyEnv+")")
	flags.StringVar(&encryptionKeyID, "encryption-key-id", "primary", "identifier stamped on encrypted credentials")
}
