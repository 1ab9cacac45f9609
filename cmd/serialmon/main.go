// Command serialmon prints the newest frame received from a serial device
// whenever it changes.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/go-serial-monitor"
	"github.com/luhtfiimanal/go-serial-monitor/internal/config"
	"github.com/luhtfiimanal/go-serial-monitor/internal/logging"
)

// frameState is the decoded form printed for every frame.
type frameState struct {
	Hex  string
	Text string
	Len  int
}

func decodeFrame(frame []byte) (frameState, bool) {
	return frameState{
		Hex:  hex.EncodeToString(frame),
		Text: printable(frame),
		Len:  len(frame),
	}, true
}

func printable(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "serialmon:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		device     = flag.String("device", "", "serial device path (overrides config)")
		baud       = flag.Int("baud", 0, "baud rate (overrides config)")
		driver     = flag.String("driver", "", "termios or portable (overrides config)")
		send       = flag.String("send", "", "line written to the device after opening")
		list       = flag.Bool("list", false, "list serial ports and exit")
	)
	flag.Parse()

	if *list {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.BaudRate = *baud
	}
	if *driver != "" {
		cfg.Serial.Driver = *driver
	}
	if *send != "" {
		cfg.Serial.SendOnStart = *send
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	delim, _ := cfg.Serial.DelimiterByte()
	port, err := openPort(cfg.Serial, delim)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := serial.NewMetrics("serialmon", reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	exec := serial.NewExecutor()
	defer exec.Close()

	reader := serial.NewReader(port, decodeFrame,
		serial.WithLogger(logger),
		serial.WithMetrics(metrics),
		serial.WithDispatcher(exec),
		serial.WithDelimiter(delim),
		serial.WithMaxBufferSize(cfg.Monitor.MaxBufferSize),
		serial.WithIdleSleep(cfg.Monitor.IdleSleep),
	)
	reader.OnStateChanged(func(s frameState) {
		logger.Info("frame",
			zap.Int("len", s.Len),
			zap.String("hex", s.Hex),
			zap.String("text", s.Text),
		)
	})

	disconnected := make(chan error, 1)
	reader.OnDisconnected(func(err error) { disconnected <- err })

	if err := reader.Start(ctx); err != nil {
		return err
	}
	defer reader.Finish()

	logger.Info("monitoring",
		zap.String("device", cfg.Serial.Device),
		zap.Int("baud", cfg.Serial.BaudRate),
		zap.String("driver", cfg.Serial.Driver),
		zap.String("session", reader.Monitor().SessionID()),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-disconnected:
		return fmt.Errorf("device lost: %w", err)
	}
}

func openPort(cfg config.SerialConfig, delim byte) (serial.Port, error) {
	sc := serial.Config{
		Device:      cfg.Device,
		BaudRate:    cfg.BaudRate,
		Delimiter:   delim,
		ReadTimeout: cfg.ReadTimeout,
	}
	if cfg.Driver == config.DriverPortable {
		p, err := serial.OpenPortable(sc)
		if err != nil {
			return nil, err
		}
		if cfg.SendOnStart != "" {
			if _, err := p.Write(append([]byte(cfg.SendOnStart), delim)); err != nil {
				p.Close()
				return nil, fmt.Errorf("send on start: %w", err)
			}
		}
		return p, nil
	}

	tty, err := serial.Open(sc)
	if err != nil {
		return nil, err
	}
	if cfg.SendOnStart != "" {
		if err := tty.WriteLine(cfg.SendOnStart); err != nil {
			tty.Close()
			return nil, fmt.Errorf("send on start: %w", err)
		}
	}
	return tty, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}
