// Package control implements the fabric daemon's control-plane HTTP
// endpoint: standard gRPC health checking (grpc.health.v1, exposed via the
// pre-built connectrpc.com/grpchealth handler, exactly as gobfd's
// cmd/gobfd/main.go wires it) plus a plain JSON topology/status endpoint.
//
// spec.md describes no control plane — the original is a library embedded
// directly in test code, not a daemon — so this package is a supplement
// for cmd/netsimd, built the way gobfd builds its own gRPC/HTTP surface.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/grpchealth"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// HealthServiceName is the Connect/gRPC health service name the fabric
// daemon reports as SERVING once its topology has finished wiring.
const HealthServiceName = "netsim.v1.FabricService"

// StatusProvider supplies the live topology snapshot served at
// /v1/topology. cmd/netsimd implements it over the running Runtime, hubs,
// and NATs.
type StatusProvider interface {
	TopologyStatus() TopologySnapshot
}

// TopologySnapshot is the JSON body served at /v1/topology.
type TopologySnapshot struct {
	Machines []MachineStatus `json:"machines"`
	Hubs     []HubStatus     `json:"hubs"`
	NATs     []NATStatus     `json:"nats"`
}

// MachineStatus reports one machine's identity.
type MachineStatus struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// HubStatus reports one hub's current interface count.
type HubStatus struct {
	Name           string `json:"name"`
	InterfaceCount int    `json:"interface_count"`
}

// NATStatus reports one NAT's current port-mapping utilization.
type NATStatus struct {
	Name           string `json:"name"`
	ExternalIPv4   string `json:"external_ipv4"`
	TCPPortsMapped int    `json:"tcp_ports_mapped"`
	UDPPortsMapped int    `json:"udp_ports_mapped"`
}

// NewHandler builds the control server's http.Handler: the health check
// mux entry plus the topology/status JSON endpoint, wrapped in h2c so
// plaintext HTTP/2 clients can speak to it without TLS; HTTP/1.1 clients
// such as netsimctl are served as well.
func NewHandler(provider StatusProvider, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()

	checker := grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName, HealthServiceName)
	mux.Handle(grpchealth.NewHandler(checker))

	mux.HandleFunc("/v1/topology", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snapshot := provider.TopologyStatus()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			log.Warn("failed to encode topology snapshot", slog.String("error", err.Error()))
		}
	})

	return h2c.NewHandler(mux, &http2.Server{})
}

// NewServer wraps NewHandler's handler in an *http.Server bound to addr,
// matching gobfd's newGRPCServer server-construction pattern.
func NewServer(addr string, provider StatusProvider, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(provider, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
