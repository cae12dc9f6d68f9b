package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rollmark",
	Short: "Classroom attendance backend with face matching",
	Long: `Rollmark is a classroom attendance backend. Teachers photograph the
class, an external embedding service turns the photo into face embeddings,
and rollmark matches them against the enrolled roster, keeps an idempotent
daily attendance ledger and serves attendance analytics.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
