package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/netsim/netsim/internal/control"
)

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Show the daemon's current machine, hub, and NAT topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := fetchTopology(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch topology: %w", err)
			}

			out, err := formatTopology(snapshot, outputFormat)
			if err != nil {
				return fmt.Errorf("format topology: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func fetchTopology(ctx context.Context) (*control.TopologySnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controlURL("/v1/topology"), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errUnexpectedStatus, resp.StatusCode)
	}

	var snapshot control.TopologySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &snapshot, nil
}
