package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docgateway",
	Short: "Multi-tenant document gateway over MongoDB",
	Long: `docgateway executes tenant actions (create, list, read, update, delete,
deleteall, drop, index, export, import, close) against MongoDB collections
that are namespaced per tenant.

Configuration is read from the environment and an optional .env file.

Examples:
  # Serve the HTTP API
  docgateway serve

  # Dump every collection of a tenant to a zip archive
  docgateway export --tenant t1 --out t1.zip

  # Load an archive into a per-app database
  docgateway import --tenant app7 --per-app --in dump.zip`,
	SilenceUsage: true,
}

var envFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")
	cobra.OnInitialize(loadEnvFile)

	rootCmd.AddCommand(newServeCmd(), newExportCmd(), newImportCmd(), newTokenCmd())
}

func loadEnvFile() {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load %s: %v", envFile, err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
