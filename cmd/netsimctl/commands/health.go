package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the daemon's control plane is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, controlURL("/v1/topology"), nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				fmt.Println("unreachable:", err)
				return errHealthCheckFailed
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				fmt.Printf("unhealthy: status %d\n", resp.StatusCode)
				return errHealthCheckFailed
			}

			fmt.Println("serving")
			return nil
		},
	}
}
