package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erazemk/lostfound/internal/central"
)

var healthCmd = &cobra.Command{
	Use:   "health [url]",
	Short: "Query an instance's health endpoint",
	Long: `Query /api/health of the instance at url (default: this instance's
listen address) through the retrying client and print the report.
Exits with status 1 unless the instance is healthy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := localURL(cfg.Server.Addr)
		if len(args) == 1 {
			target = args[0]
		}
		return checkHealth(cmd, target)
	},
}

// localURL turns a listen address like ":8080" into a URL to reach it.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func checkHealth(cmd *cobra.Command, target string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := central.NewPeerClient(cfg.Client, strings.TrimRight(target, "/"))
	if err != nil {
		return err
	}

	// An unhealthy instance answers 503 with a report, so the body of a
	// failed call is still worth reading.
	resp, err := client.Get(ctx, "/api/health", nil)
	if resp == nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	var report central.HealthReport
	if derr := resp.Decode(&report); derr != nil {
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return derr
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if report.Status != central.StatusHealthy {
		return errors.New("instance is " + report.Status)
	}
	return nil
}
