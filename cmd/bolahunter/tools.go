package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raaihank/bolahunter/internal/export"
	"github.com/raaihank/bolahunter/internal/proxy"
)

var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Check that a running instance answers on its API port",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		if url == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url = fmt.Sprintf("http://localhost:%d/health", cfg.API.Port)
		}
		return performHealthCheck(url)
	},
}

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the MITM certificate authority",
}

var caGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a CA certificate and key for HTTPS interception",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		certPath, _ := cmd.Flags().GetString("cert")
		keyPath, _ := cmd.Flags().GetString("key")
		name, _ := cmd.Flags().GetString("name")

		if err := proxy.GenerateCA(name, certPath, keyPath); err != nil {
			return err
		}
		printSuccess("CA written to %s and %s", certPath, keyPath)
		printInfo("Set proxy.ca_cert and proxy.ca_key, then trust %s in your browser", certPath)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Work with capture pool exports",
}

var exportShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print the records of a JSON lines, CSV or Parquet export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := export.ReadFile(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range records {
			state := "active"
			if !r.Active {
				state = "inactive"
			}
			resp := "-"
			if r.HasResponse {
				resp = "response"
			}
			fmt.Fprintf(w, "%-5d %-9s %-40s %-12s %-6s %-8s %s\n", r.Seq, state, r.Value, r.Rule, r.Method, resp, r.URL)
		}
		printInfo("%d records", len(records))
		return nil
	},
}

func init() {
	healthCheckCmd.Flags().String("url", "", "Health endpoint (default http://localhost:<api.port>/health)")

	caGenerateCmd.Flags().String("cert", "bolahunter-ca.pem", "Certificate output path")
	caGenerateCmd.Flags().String("key", "bolahunter-ca.key", "Private key output path")
	caGenerateCmd.Flags().String("name", "BOLA Hunter CA", "Certificate common name")
	caCmd.AddCommand(caGenerateCmd)

	exportCmd.AddCommand(exportShowCmd)

	rootCmd.AddCommand(healthCheckCmd, caCmd, exportCmd)
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}

	fmt.Fprintln(os.Stdout, "Health check passed")
	return nil
}
