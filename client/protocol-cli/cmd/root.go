package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "protocol-cli",
	Short: "A CLI client for the CKD protocol service",
	Long: `A command-line interface for uploading clinical protocols and asking the
protocol service for evidence-linked CKD recommendations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	def := defaultServer
	if env := os.Getenv("PROTOCOL_SERVER"); env != "" {
		def = env
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "base URL of the protocol service (env PROTOCOL_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout; uploads wait for the whole ingestion")
}
