// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/devicecfg"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/hostlink"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/metrics"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var (
	emulateListen      string
	emulateMetricsAddr string
	emulateHeartbeat   time.Duration
	emulateStats       time.Duration
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Emulate a device from a description file",
	Long: `Serve the configuration protocol from an in-memory parameter store.

The device is described by --config (TOML or YAML). Without a file a small
built-in device is used: ID 00:53:43, one block with one section of ten
parameters in the range 0-50.

The emulator answers on the connection selected by the global flags, or
accepts WebSocket clients on --listen (path /sysex). Prometheus metrics are
served on --metrics-addr (path /metrics).

Examples:
  # Emulate on a virtual serial port
  sysexconf emulate --config device.toml --port /dev/pts/3

  # Emulate over WebSocket with metrics
  sysexconf emulate --config device.yaml --listen :8080 --metrics-addr :9100`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateListen, "listen", "", "Accept WebSocket clients on this address instead of opening a connection")
	emulateCmd.Flags().StringVar(&emulateMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	emulateCmd.Flags().DurationVar(&emulateHeartbeat, "heartbeat", 0, "Send an unsolicited uptime message at this interval while a session is open")
	emulateCmd.Flags().DurationVar(&emulateStats, "stats-interval", 0, "Log engine statistics at this interval")
}

// replyRouter sends engine replies to the connection whose request is being
// handled
type replyRouter struct {
	w io.Writer
}

func (r *replyRouter) send(b []byte) {
	if r.w == nil {
		return
	}
	if _, err := r.w.Write(b); err != nil {
		logger.Warn().Err(err).Msg("reply write failed")
	}
}

type emulator struct {
	cfg    devicecfg.Config
	engine *metrics.Guarded
	router *replyRouter
}

func newEmulator() (*emulator, error) {
	cfg := devicecfg.Default()
	if deviceConfig != "" {
		var err error
		cfg, err = devicecfg.Load(deviceConfig)
		if err != nil {
			return nil, err
		}
	}

	engine, store, err := cfg.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	router := &replyRouter{}
	store.SetSender(router.send)

	return &emulator{cfg: cfg, engine: metrics.NewGuarded(engine), router: router}, nil
}

// handle runs one frame through the engine with replies going to w. A
// configured tolerant device keeps its modal flag across session closes.
func (e *emulator) handle(w io.Writer, frame []byte) {
	e.engine.Do(func(engine *sysexconf.Engine) {
		e.router.w = w
		engine.HandleMessage(frame)
		if e.cfg.ModalFlag && engine.Mode() == sysexconf.ModeTolerant && !engine.ModalFlag() {
			engine.SetModalFlag(true)
		}
	})
}

// serve reads frames from conn until it closes
func (e *emulator) serve(conn Connection, maxSize int) error {
	err := hostlink.ReadFrames(conn, maxSize, logger, func(frame []byte) {
		logger.Trace().Str("rx", sysexconf.FormatBytes(frame)).Msg("frame received")
		e.handle(conn, frame)
	})
	if errors.Is(err, ErrConnectionClosed) {
		return nil
	}
	return err
}

func runEmulate(cmd *cobra.Command, args []string) error {
	emu, err := newEmulator()
	if err != nil {
		return err
	}

	var maxSize int
	var ecfg sysexconf.Config
	emu.engine.Do(func(engine *sysexconf.Engine) {
		maxSize = engine.MaxMessageSize()
		ecfg = engine.Config()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := emu.cfg.Name
	if name == "" {
		name = ecfg.ManufacturerID.String()
	}
	logger.Info().
		Str("device", name).
		Stringer("id", ecfg.ManufacturerID).
		Int("value_size", int(ecfg.ValueSize)).
		Int("params_per_message", ecfg.ParamsPerMessage).
		Stringer("mode", ecfg.Mode).
		Int("blocks", len(emu.cfg.Blocks)).
		Msg("emulator ready")

	if emulateMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metrics.NewCollector(name, emu.engine),
			collectors.NewGoCollector(),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: emulateMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		logger.Info().Str("addr", emulateMetricsAddr).Msg("serving metrics")
	}

	if emulateStats > 0 {
		go emu.logStats(ctx, emulateStats)
	}

	if emulateListen != "" {
		return emu.listen(ctx, maxSize)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	logger.Info().Str("connection", connInfo).Msg("serving")

	if emulateHeartbeat > 0 {
		go emu.heartbeat(ctx, conn, emulateHeartbeat)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- emu.serve(conn, maxSize) }()

	select {
	case <-ctx.Done():
		conn.Close()
		<-errCh
		err = nil
	case err = <-errCh:
		conn.Close()
	}
	fmt.Fprint(os.Stderr, emu.engine.Stats().String())
	return err
}

// listen accepts WebSocket clients. Clients share one engine and session.
func (e *emulator) listen(ctx context.Context, maxSize int) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  maxSize,
		WriteBufferSize: maxSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	var wg sync.WaitGroup
	mux := http.NewServeMux()
	mux.HandleFunc("/sysex", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
			return
		}
		wg.Add(1)
		defer wg.Done()

		conn := newWebSocketConnection(ws, maxSize)
		logger.Info().Str("remote", r.RemoteAddr).Msg("client connected")
		if err := e.serve(conn, maxSize); err != nil {
			logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("client read ended")
		}
		logger.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")
		e.engine.Do(func(engine *sysexconf.Engine) {
			if e.router.w == io.Writer(conn) {
				e.router.w = nil
			}
		})
	})

	srv := &http.Server{Addr: emulateListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info().Str("addr", emulateListen).Msg("accepting WebSocket clients on /sysex")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		wg.Wait()
		fmt.Fprint(os.Stderr, e.engine.Stats().String())
		return nil
	case err := <-errCh:
		return err
	}
}

// heartbeat sends the uptime in seconds as an unsolicited custom message
// while a session is open
func (e *emulator) heartbeat(ctx context.Context, conn Connection, interval time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.engine.Do(func(engine *sysexconf.Engine) {
				if !engine.IsConnectionOpen() {
					return
				}
				e.router.w = conn
				uptime := uint16(min(time.Since(start)/time.Second, sysexconf.Max14))
				if err := engine.SendCustomMessage([]uint16{uptime}, false); err != nil {
					logger.Warn().Err(err).Msg("heartbeat failed")
				}
			})
		}
	}
}

func (e *emulator) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := e.engine.Stats()
			logger.Info().
				Uint64("received", s.Received).
				Uint64("dropped", s.DroppedTotal()).
				Uint64("sent", s.Sent).
				Uint64("errors", s.Errors()).
				Uint64("suppressed", s.Suppressed).
				Uint64("tolerated", s.Tolerated).
				Bool("session_open", e.engine.IsConnectionOpen()).
				Msg("engine statistics")
		}
	}
}
