// Package runtime is the daemon's composition root: it builds the engine
// from configuration, wires the platform ports, and supervises the mesh
// manager, the control API, and the optional metrics endpoint.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/weftlabs/meshbond/internal/aggregator"
	"github.com/weftlabs/meshbond/internal/api"
	"github.com/weftlabs/meshbond/internal/config"
	"github.com/weftlabs/meshbond/internal/discovery"
	"github.com/weftlabs/meshbond/internal/failover"
	"github.com/weftlabs/meshbond/internal/mesh"
	"github.com/weftlabs/meshbond/internal/node"
	"github.com/weftlabs/meshbond/internal/notify"
	"github.com/weftlabs/meshbond/internal/platform"
	"github.com/weftlabs/meshbond/internal/quality"
)

// Run builds and runs the engine until ctx is cancelled. Startup errors
// (socket binds, no usable interface) abort; errors after startup tear
// the process down through the returned error.
func Run(ctx context.Context, log *slog.Logger, cfg *config.Config) error {
	enumerator := platform.NewSystemEnumerator(log)

	ifaces, err := enumerateWithRetry(ctx, log, enumerator)
	if err != nil {
		return fmt.Errorf("failed to find a usable interface: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to read hostname: %w", err)
	}
	nodeID := discovery.NodeID(hostname, firstHWAddress(ifaces))

	address, err := enumerator.LocalAddress()
	if err != nil {
		log.Warn("runtime: failed to resolve local address", "error", err)
		address = firstAddress(ifaces)
	}

	broadcaster, err := platform.NewUDPBroadcaster(ctx, platform.BroadcastConfig{
		Logger: log,
		Port:   cfg.NodeDiscovery.Port,
		Addr:   cfg.NodeDiscovery.BroadcastAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to bind discovery socket: %w", err)
	}
	defer broadcaster.Close()

	prober := platform.NewICMPProber(log, os.Geteuid() == 0)

	var estimator platform.BandwidthEstimator = platform.ClassEstimator{}
	if cfg.Quality.BandwidthSource == "observed" {
		estimator = platform.NewThroughputEstimator()
	}

	collector, err := quality.New(&quality.Config{
		Logger:         log,
		Prober:         prober,
		Estimator:      estimator,
		LatencyTargets: cfg.Quality.LatencyTargets,
		ProbeTimeout:   cfg.Quality.ProbeDeadline(),
		HistorySize:    cfg.Quality.HistorySize,
	})
	if err != nil {
		return fmt.Errorf("failed to build quality collector: %w", err)
	}

	discoverer, err := discovery.New(&discovery.Config{
		Logger:       log,
		Broadcaster:  broadcaster,
		NodeID:       nodeID,
		Group:        cfg.NodeDiscovery.Group,
		ListenWindow: cfg.NodeDiscovery.Window(),
	})
	if err != nil {
		return fmt.Errorf("failed to build discoverer: %w", err)
	}

	agg, err := aggregator.New(&aggregator.Config{
		Logger:       log,
		MaxQueueSize: cfg.LinkAggregation.MaxQueueSize,
		Mode:         aggregator.Mode(cfg.LinkAggregation.Mode),
	})
	if err != nil {
		return fmt.Errorf("failed to build aggregator: %w", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notifications.WebhookURL != "" {
		notifier = notify.NewWebhook(log, cfg.Notifications.WebhookURL)
	}

	fm, err := failover.New(&failover.Config{
		Logger:           log,
		Prober:           prober,
		Notifier:         notifier,
		Targets:          cfg.Failover.Targets,
		FailThreshold:    cfg.Failover.Threshold,
		RecoverThreshold: cfg.Failover.RecoveryThreshold,
		ProbeTimeout:     cfg.Failover.ProbeDeadline(),
	})
	if err != nil {
		return fmt.Errorf("failed to build failover manager: %w", err)
	}

	names := make([]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		names = append(names, ifc.Name)
	}
	fm.Init(cfg.Interfaces.Primary, cfg.Interfaces.Backups, names)

	manager, err := mesh.New(&mesh.Config{
		Logger:            log,
		Enumerator:        enumerator,
		Discoverer:        discoverer,
		Collector:         collector,
		Aggregator:        agg,
		Failover:          fm,
		NodeID:            nodeID,
		Address:           address,
		InitialInterfaces: ifaces,
		DiscoveryInterval: cfg.NodeDiscovery.BroadcastEvery(),
		MonitorInterval:   cfg.Failover.MonitorEvery(),
		OptimizeInterval:  cfg.LinkAggregation.RebalanceEvery(),
		HousekeepInterval: cfg.Daemon.HousekeepEvery(),
		PeerTTL:           cfg.NodeDiscovery.PeerTTL(),
	})
	if err != nil {
		return fmt.Errorf("failed to build mesh manager: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() {
		if err := manager.Run(ctx); err != nil {
			errCh <- fmt.Errorf("mesh manager failed: %w", err)
		} else {
			errCh <- nil
		}
	}()

	apiServer, lis, err := serveAPI(ctx, log, cfg.Daemon.Socket, manager)
	if err != nil {
		return err
	}
	defer unix.Unlink(cfg.Daemon.Socket) //nolint
	go func() {
		if err := apiServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()

	if cfg.Daemon.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", promhttp.Handler())
			log.Info("runtime: serving metrics", "addr", cfg.Daemon.MetricsAddr)
			if err := http.ListenAndServe(cfg.Daemon.MetricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("runtime: shutting down", "reason", ctx.Err())
		apiServer.Close()
		return nil
	case err := <-errCh:
		apiServer.Close()
		return err
	}
}

// enumerateWithRetry polls interface enumeration with exponential backoff
// until at least one non-loopback interface appears. Interfaces can come
// up after the daemon on boot.
func enumerateWithRetry(ctx context.Context, log *slog.Logger, enumerator platform.Enumerator) ([]node.Interface, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	var ifaces []node.Interface
	op := func() error {
		var err error
		ifaces, err = enumerator.Interfaces(ctx)
		if err != nil {
			return err
		}
		if len(ifaces) == 0 {
			return errors.New("no non-loopback interfaces found")
		}
		return nil
	}
	notifyFn := func(err error, wait time.Duration) {
		log.Warn("runtime: waiting for interfaces", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notifyFn); err != nil {
		return nil, err
	}
	return ifaces, nil
}

func serveAPI(ctx context.Context, log *slog.Logger, sockFile string, manager *mesh.Manager) (*api.Server, net.Listener, error) {
	// A previous unclean shutdown leaves the socket behind.
	_ = unix.Unlink(sockFile)

	lis, err := net.Listen("unix", sockFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create control socket: %w", err)
	}
	if err := os.Chmod(sockFile, 0o666); err != nil {
		log.Error("runtime: failed to set socket permissions", "error", err)
	}

	srv := api.NewServer(
		api.WithBaseContext(ctx),
		api.WithHandler(api.NewMux(log, manager)),
		api.WithSockFile(sockFile),
	)
	log.Info("runtime: serving control api", "socket", sockFile)
	return srv, lis, nil
}

func firstHWAddress(ifaces []node.Interface) string {
	for _, ifc := range ifaces {
		if ifc.HWAddress != "" {
			return ifc.HWAddress
		}
	}
	return "00:00:00:00:00:00"
}

func firstAddress(ifaces []node.Interface) string {
	for _, ifc := range ifaces {
		if ifc.Address != "" {
			return ifc.Address
		}
	}
	return ""
}
