package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/netsim/netsim/internal/control"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// Sentinel errors for CLI validation and control-plane responses.
var (
	errUnsupportedFormat = errors.New("unsupported output format")
	errUnexpectedStatus  = errors.New("unexpected response status")
	errHealthCheckFailed = errors.New("health check failed")
)

func formatTopology(snapshot *control.TopologySnapshot, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal topology to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatTable:
		return formatTopologyTable(snapshot), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatTopologyTable(snapshot *control.TopologySnapshot) string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "MACHINES (%d)\n", len(snapshot.Machines))
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID")
	for _, m := range snapshot.Machines {
		fmt.Fprintf(w, "%s\t%s\n", m.Name, m.ID)
	}
	w.Flush()

	fmt.Fprintf(&buf, "\nHUBS (%d)\n", len(snapshot.Hubs))
	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tINTERFACES")
	for _, h := range snapshot.Hubs {
		fmt.Fprintf(w, "%s\t%d\n", h.Name, h.InterfaceCount)
	}
	w.Flush()

	fmt.Fprintf(&buf, "\nNATS (%d)\n", len(snapshot.NATs))
	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tEXTERNAL\tTCP-PORTS\tUDP-PORTS")
	for _, n := range snapshot.NATs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", n.Name, n.ExternalIPv4, n.TCPPortsMapped, n.UDPPortsMapped)
	}
	w.Flush()

	return buf.String()
}
