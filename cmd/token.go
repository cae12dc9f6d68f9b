package cmd

import (
	"fmt"
	"time"

	"github.com/rollmark/rollmark/internal/auth"
	"github.com/rollmark/rollmark/internal/config"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a teacher",
	Long: `Mints a signed bearer token for the given teacher ID. Useful for
provisioning API access and for local testing against a running server.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("teacher", "", "Teacher ID to embed in the token (required)")
	tokenCmd.Flags().Int("lifetime", 24, "Token lifetime in hours")
	_ = tokenCmd.MarkFlagRequired("teacher")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	teacherID := mustGetString(cmd, "teacher")
	lifetimeHours := mustGetInt(cmd, "lifetime")

	cfg := config.Load()
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.QRTokenLifetime)*time.Second)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	token, err := tokens.MintBearer(teacherID, time.Duration(lifetimeHours)*time.Hour)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	fmt.Println(token)
	return nil
}
