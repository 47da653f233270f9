package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/samaelod/xbridge/capture"
	"github.com/samaelod/xbridge/config"
	"github.com/samaelod/xbridge/directory"
	"github.com/samaelod/xbridge/engine"
	"github.com/samaelod/xbridge/lua"
	"github.com/samaelod/xbridge/metric"
	"github.com/samaelod/xbridge/observability"
	"github.com/samaelod/xbridge/tui"
	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
	"github.com/samaelod/xbridge/wireless/udpsim"
	"github.com/samaelod/xbridge/wireless/xbee"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file (yaml or json)")
	tablePath := flag.String("table", "", "node table (.lua or .yaml), overrides the config")
	monitor := flag.Bool("tui", false, "run the terminal monitor")
	dumpTable := flag.String("dump-table", "", "write the node table to this file (.lua or .yaml) and exit")
	inspect := flag.String("inspect", "", "print a capture file and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("xbridge", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "xbridge:", err)
		os.Exit(2)
	}
	if *tablePath != "" {
		cfg.Table = *tablePath
	}

	switch {
	case *inspect != "":
		err = inspectCapture(*inspect, cfg.Table)
	case *dumpTable != "":
		err = writeTable(cfg.Table, *dumpTable)
	default:
		err = run(cfg, *monitor)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "xbridge:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, monitor bool) error {
	logCfg := cfg.Log
	var ring *engine.RingCore
	var extra []zapcore.Core
	if monitor {
		// The terminal belongs to the monitor; console output goes to the ring.
		logCfg = observability.WithoutConsole(logCfg)
		ring = engine.NewRingCore(cfg.Log.RingLines, observability.ParseLevel(cfg.Log.Level))
		extra = append(extra, ring)
	}
	logger, err := observability.SetupLogger(logCfg, extra...)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	radio, profile, err := openRadio(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer radio.Close()

	dir, err := directory.Load(cfg.Table, directory.WithBinding(profile.Endpoint, profile.ProfileID, profile.ClusterID))
	if err != nil {
		return fmt.Errorf("node table %s: %w", cfg.Table, err)
	}
	logger.Info("node table loaded",
		zap.String("path", cfg.Table),
		zap.Int("nodes", dir.Len()),
		zap.Stringer("kind", dir.Kind()))

	if udp, ok := radio.(*udpsim.Transport); ok {
		logger.Info("udpsim listening", zap.Stringer("addr", udp.LocalAddr()))
	}

	metrics := metric.New()
	opts := engine.Options{
		Mode:          cfg.Mode(),
		ListenHost:    cfg.ListenHost,
		MultiplexAddr: cfg.MultiplexAddr(),
		Delimiter:     cfg.MultiplexDelimiter,
		AdminAddr:     cfg.AdminAddr(),
		Debounce:      cfg.Debounce,
		Tick:          cfg.Tick,
		ReadSize:      cfg.ReadSize(),
		TxRate:        cfg.Radio.TxRate,
		TxBurst:       cfg.Radio.TxBurst,
		Logger:        logger,
		Metrics:       metrics,
	}

	if cfg.Capture != "" {
		w, err := capture.Create(cfg.Capture)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		defer w.Close()
		opts.Recorder = w
		logger.Info("capturing radio traffic", zap.String("path", cfg.Capture))
	}

	bridge, err := engine.New(dir, radio, opts)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := metric.NewServer(cfg.HTTPAddr, metric.NewRegistry(metrics), bridge.Snapshot, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	if !monitor {
		return bridge.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- bridge.Run(ctx) }()

	uiErr := tui.Run(tui.Options{
		Version: version,
		Table:   cfg.Table,
		Bridge:  bridge,
		Logs:    ring,
	})
	cancel()
	return errors.Join(<-errc, uiErr)
}

// openRadio opens the configured transport and settles its profile.
func openRadio(ctx context.Context, cfg *config.Config, logger *zap.Logger) (wireless.Transport, wireless.Profile, error) {
	rc := cfg.Radio
	switch rc.Kind {
	case "udpsim":
		self, err := types.ParseNodeAddress(rc.UDPSelf)
		if err != nil {
			return nil, wireless.Profile{}, err
		}
		peers, err := cfg.UDPPeerTable()
		if err != nil {
			return nil, wireless.Profile{}, err
		}
		profile := wireless.Series1.WithMTU(rc.MTU)
		t, err := udpsim.Listen(udpsim.Options{
			Listen: rc.UDPListen,
			Self:   self.Extended,
			Peers:  peers,
			MTU:    profile.MTU,
			Logger: logger,
		})
		if err != nil {
			return nil, wireless.Profile{}, err
		}
		return t, profile, nil

	default:
		r, err := xbee.Open(rc.SerialPort, rc.Baud, xbee.Options{
			Escaped:       rc.APIEscaped,
			ProbeTimeout:  rc.ProbeTimeout,
			StatusTimeout: rc.TxStatusTimeout,
			Logger:        logger,
		})
		if err != nil {
			return nil, wireless.Profile{}, err
		}

		probeCtx, cancel := context.WithTimeout(ctx, rc.ProbeTimeout+time.Second)
		defer cancel()
		profile, err := r.Detect(probeCtx, rc.RequireProbe)
		if err != nil {
			r.Close()
			return nil, wireless.Profile{}, err
		}
		if rc.MTU > 0 {
			profile = profile.WithMTU(rc.MTU)
			r.SetProfile(profile)
		}
		logger.Info("radio ready", zap.String("port", rc.SerialPort), zap.Stringer("profile", profile))
		return r, profile, nil
	}
}

func writeTable(src, dst string) error {
	mappings, err := directory.ReadFile(src)
	if err != nil {
		return err
	}
	if _, err := directory.New(mappings); err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(dst)) {
	case ".lua":
		err = lua.WriteTable(f, mappings)
	default:
		var data []byte
		data, err = directory.MarshalYAML(mappings)
		if err == nil {
			_, err = f.Write(data)
		}
	}
	if err != nil {
		return err
	}
	return f.Close()
}

// inspectCapture prints a capture, naming nodes from the table when it loads.
func inspectCapture(path, table string) error {
	names := func(types.NodeAddress) string { return "" }
	if dir, err := directory.Load(table); err == nil {
		names = func(a types.NodeAddress) string {
			id, err := dir.ResolveAddress(a)
			if err != nil {
				return ""
			}
			return id.String()
		}
	}
	return capture.Dump(os.Stdout, path, names)
}
