package main

import (
	"os"

	"github.com/alfredjeanlab/extgate/internal/client"
	"github.com/alfredjeanlab/extgate/internal/ui"
	"github.com/spf13/cobra"
)

var (
	gatewayURL string
	authToken  string
	jsonOutput bool
	noColor    bool

	adminClient client.AdminClient
)

func defaultGatewayURL() string {
	if s := os.Getenv("EXTGATE_URL"); s != "" {
		return s
	}
	return "http://127.0.0.1:11583"
}

var rootCmd = &cobra.Command{
	Use:   "extgate <command>",
	Short: "Policy gateway for external service APIs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		adminClient = client.NewHTTPClient(gatewayURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if adminClient != nil {
			adminClient.Close()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "url", defaultGatewayURL(), "gateway URL (EXTGATE_URL)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("EXTGATE_AUTH_TOKEN"), "bearer token (EXTGATE_AUTH_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "review", Title: "Review:"},
		&cobra.Group{ID: "gateway", Title: "Gateway:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Review
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)

	// Gateway
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(callCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
