// Command swapper is the short-lived helper that finishes an orchestrator
// self-replacement. It runs detached after the orchestrator has pre-created
// its replacement container; the orchestrator process is gone by the time the
// swap happens, so this binary owns the protocol end to end: stop the old
// container, rename it aside, promote the replacement to the original name,
// start it, and serve a minimal status page until the new instance answers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"log/slog"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/pkg/config"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/pkg/logger"
)

const statusPage = `<!doctype html>
<html><head><title>Upgrading</title><meta http-equiv="refresh" content="3"></head>
<body><h1>Upgrade in progress</h1><p>The orchestrator is being replaced. This page refreshes automatically.</p></body></html>`

func main() {
	var (
		oldName = flag.String("old", "", "name of the container being replaced")
		newName = flag.String("new", "", "name of the pre-created replacement container")
	)
	flag.Parse()

	log := logger.New("swapper", logger.ParseLevel(config.GetString("RSG_LOG_LEVEL", "info")))

	if *oldName == "" {
		*oldName = config.GetString("RSG_SWAP_OLD", "")
	}
	if *newName == "" {
		*newName = config.GetString("RSG_SWAP_NEW", "")
	}
	if *oldName == "" || *newName == "" {
		log.Error("old and new container names are required")
		os.Exit(2)
	}

	statusAddr := config.GetString("RSG_SWAP_STATUS_ADDR", ":8585")
	healthURL := config.GetString("RSG_SWAP_HEALTH_URL", fmt.Sprintf("http://127.0.0.1%s/healthz", statusAddr))
	stopTimeout := config.GetSeconds("RSG_SWAP_STOP_TIMEOUT_SECONDS", 30)
	waitTimeout := config.GetSeconds("RSG_SWAP_WAIT_TIMEOUT_SECONDS", 120)

	client, err := docker.New(config.GetString("DOCKER_HOST", ""))
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, client, log, *oldName, *newName, statusAddr, healthURL, stopTimeout, waitTimeout); err != nil {
		log.Error("swap failed", "error", err)
		os.Exit(1)
	}
	log.Info("swap complete", "container", *oldName)
}

func run(ctx context.Context, client *docker.Client, log *slog.Logger, oldName, newName, statusAddr, healthURL string, stopTimeout, waitTimeout time.Duration) error {
	oldID, err := client.ContainerIDByName(ctx, oldName)
	if err != nil {
		return fmt.Errorf("look up %s: %w", oldName, err)
	}
	newID, err := client.ContainerIDByName(ctx, newName)
	if err != nil {
		return fmt.Errorf("look up %s: %w", newName, err)
	}
	if newID == "" {
		return fmt.Errorf("replacement container %s not found", newName)
	}

	if oldID != "" {
		log.Info("stopping old container", "name", oldName)
		if err := client.StopContainer(ctx, oldID, stopTimeout); err != nil {
			return fmt.Errorf("stop old container: %w", err)
		}
	}

	// The old container's port is free now; hold it with a status page while
	// the replacement comes up. The listener is released right before the new
	// container starts so it can claim the port.
	stopStatus := serveStatus(log, statusAddr)

	if oldID != "" {
		previousName := oldName + "-previous"
		if staleID, err := client.ContainerIDByName(ctx, previousName); err == nil && staleID != "" {
			if err := client.RemoveContainer(ctx, staleID); err != nil {
				return fmt.Errorf("remove stale previous container: %w", err)
			}
		}
		if err := client.RenameContainer(ctx, oldID, previousName); err != nil {
			return fmt.Errorf("rename old container: %w", err)
		}
	}
	if err := client.RenameContainer(ctx, newID, oldName); err != nil {
		return fmt.Errorf("promote replacement container: %w", err)
	}

	stopStatus()
	log.Info("starting new container", "name", oldName)
	if err := client.StartContainer(ctx, newID); err != nil {
		return fmt.Errorf("start new container: %w", err)
	}

	if err := waitReachable(ctx, healthURL, waitTimeout); err != nil {
		return fmt.Errorf("new instance never became reachable: %w", err)
	}
	log.Info("new instance reachable", "url", healthURL)

	if oldID != "" {
		if err := client.RemoveContainer(ctx, oldID); err != nil {
			log.Warn("could not remove previous container", "error", err)
		}
	}
	return nil
}

// serveStatus binds the given address and serves the upgrading page until the
// returned stop function is called. Bind failures are logged and ignored; the
// status page is best effort.
func serveStatus(log *slog.Logger, addr string) func() {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn("status page unavailable", "addr", addr, "error", err)
		return func() {}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, statusPage)
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.Serve(listener)
	}()
	log.Info("serving upgrade status page", "addr", addr)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func waitReachable(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 3 * time.Second}
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
		}
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("timed out after %s", timeout)
}
