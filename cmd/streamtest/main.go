// streamtest opens one realtime session and prints every event to the
// console. Useful for checking a token and watching room traffic.
//
// Usage:
//
//	VESSELWATCH_TOKEN=... go run ./cmd/streamtest --vessels v-1,v-2 --areas a-1
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/vesselwatch/internal/auth"
	"github.com/rickgao/vesselwatch/internal/config"
	"github.com/rickgao/vesselwatch/internal/connection"
	"github.com/rickgao/vesselwatch/internal/logging"
	"github.com/rickgao/vesselwatch/internal/router"
	"github.com/rickgao/vesselwatch/internal/version"
)

func main() {
	configPath := flag.String("config", "", "optional config file; flags override it")
	url := flag.String("url", "", "push endpoint (default from config or "+config.DefaultWSURL+")")
	token := flag.String("token", "", "auth token (default $"+auth.TokenEnv+")")
	vessels := flag.String("vessels", "", "comma-separated vessel ids to join")
	areas := flag.String("areas", "", "comma-separated area ids to join")
	verbose := flag.Bool("verbose", false, "pretty-print full payloads")
	flag.Parse()

	cfg := &config.Config{Logging: config.LoggingConfig{Level: "debug", Format: "console"}}
	if *configPath != "" {
		loaded, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		cfg.Logging.Format = "console"
	}
	if *url != "" {
		cfg.API.WSURL = *url
	}
	if cfg.API.WSURL == "" {
		cfg.API.WSURL = config.DefaultWSURL
	}
	if *token != "" {
		cfg.API.Token = *token
	}
	cfg.Rooms.Vessels = append(cfg.Rooms.Vessels, splitList(*vessels)...)
	cfg.Rooms.Areas = append(cfg.Rooms.Areas, splitList(*areas)...)

	logger := logging.New(cfg.Logging, os.Stderr)

	creds, err := auth.LoadCredentials(cfg.API)
	if err != nil {
		logger.Error("no token", "error", err, "hint", "pass --token or set "+auth.TokenEnv)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientCfg, mgrCfg := connection.ConfigsFrom(cfg.API.WSURL, creds.HandshakeHeader(), cfg.Connection)
	mgr := connection.NewManager(mgrCfg, connection.NewDialer(clientCfg), logger)

	mgr.Router().OnAny(func(ev router.Event) {
		printEvent(os.Stdout, ev, *verbose)
	})
	mgr.OnStateChange(func(from, to connection.State) {
		logger.Debug("state", "from", from.String(), "to", to.String())
	})

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	for _, id := range cfg.Rooms.Vessels {
		_ = mgr.JoinVesselRoom(id)
	}
	for _, id := range cfg.Rooms.Areas {
		_ = mgr.JoinAreaRoom(id)
	}
	if err := mgr.Connect(creds.Token); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	logger.Info("streaming started - press Ctrl+C to stop",
		"version", version.Version,
		"url", cfg.API.WSURL,
		"vessels", len(cfg.Rooms.Vessels),
		"areas", len(cfg.Rooms.Areas),
	)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := mgr.Router().Stats()
				logger.Info("stats",
					"state", mgr.State().String(),
					"epoch", mgr.Epoch(),
					"queued", mgr.QueueLen(),
					"dispatched", st.Dispatched,
					"unhandled", st.Unhandled,
					"decode_errors", st.DecodeErrors,
				)
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("stop timed out", "error", err)
	}
	logger.Info("shutdown complete")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printEvent(w io.Writer, ev router.Event, verbose bool) {
	ts := ev.ReceivedAt.Format("15:04:05.000")
	tag := strings.ToUpper(ev.Name)

	if len(ev.Data) == 0 {
		fmt.Fprintf(w, "%s [%s]\n", ts, tag)
		return
	}
	if !verbose {
		fmt.Fprintf(w, "%s [%s] %s\n", ts, tag, ev.Data)
		return
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, ev.Data, "", "  "); err != nil {
		fmt.Fprintf(w, "%s [%s] %s\n", ts, tag, ev.Data)
		return
	}
	fmt.Fprintf(w, "%s [%s]\n%s\n", ts, tag, buf.String())
}
