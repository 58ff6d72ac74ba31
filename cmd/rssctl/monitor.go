package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/srg/rsslink/internal/metrics"
	"github.com/srg/rsslink/pkg/rss"
)

const metricsShutdownTimeout = 2 * time.Second

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream weight, configuration and connection updates",
		Long: `Connect to the sorting system and print every value it publishes until
interrupted or until --duration elapses.

A dropped link is reconnected automatically. With --refresh both
characteristics are re-read periodically while connected. With
--metrics-addr the session counters are served in Prometheus format on
/metrics.`,
		Args: cobra.NoArgs,
		RunE: runMonitor,
	}
	cmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (default from config)")
	cmd.Flags().Duration("refresh", 0, "Re-read weight and configuration at this interval (0 disables)")
	return cmd
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", format)
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	duration, _ := cmd.Flags().GetDuration("duration")
	refresh, _ := cmd.Flags().GetDuration("refresh")

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	collector.Register(reg)
	reg.MustRegister(collectors.NewGoCollector())

	m, err := newManager(cfg, logger, collector)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)

	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = m.Shutdown(context.Background())
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
		srv := &http.Server{Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return monitor(ctx, m, newEventPrinter(cmd.OutOrStdout(), format), logger)
	})
	if refresh > 0 {
		g.Go(func() error {
			refreshLoop(ctx, m, refresh, logger)
			return nil
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.OperationTimeout)
	defer cancel()
	if serr := m.Shutdown(shutdownCtx); serr != nil {
		logger.WithError(serr).Warn("Shutdown did not complete cleanly")
	}
	return err
}

// monitor prints every published value until ctx ends. The end of ctx is
// a normal exit.
func monitor(ctx context.Context, m *rss.Manager, p *eventPrinter, logger *logrus.Logger) error {
	conn := m.ConnectionState()
	defer conn.Close()
	weight := m.Weight()
	defer weight.Close()
	configuration := m.Configuration()
	defer configuration.Close()

	defer func() {
		fields := logrus.Fields{
			rss.StreamConnectionState: conn.Dropped(),
			rss.StreamWeight:          weight.Dropped(),
			rss.StreamConfiguration:   configuration.Dropped(),
		}
		if conn.Dropped()+weight.Dropped()+configuration.Dropped() > 0 {
			logger.WithFields(fields).Warn("Output fell behind, some updates were skipped")
		}
	}()

	m.Receive()

	for {
		select {
		case <-ctx.Done():
			return nil

		case r, ok := <-conn.C():
			if !ok {
				return ErrConnectionLost
			}
			p.print(rss.StreamConnectionState, r.Kind, r.String(), r)
			if r.IsSuccess() && r.Data.State == rss.Disconnected {
				logger.Info("Link dropped, reconnecting")
				m.Reconnect()
			}

		case r, ok := <-weight.C():
			if !ok {
				return ErrConnectionLost
			}
			text := r.String()
			var data any
			if r.IsSuccess() {
				text = formatWeight(r.Data)
				data = newWeightJSON(r.Data)
			}
			p.print(rss.StreamWeight, r.Kind, text, data)

		case r, ok := <-configuration.C():
			if !ok {
				return ErrConnectionLost
			}
			text := r.String()
			var data any
			if r.IsSuccess() {
				text = r.Data.String()
				data = newConfigurationJSON(r.Data)
			}
			p.print(rss.StreamConfiguration, r.Kind, text, data)
		}
	}
}

// refreshLoop re-reads both characteristics every interval while connected.
func refreshLoop(ctx context.Context, m *rss.Manager, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() != rss.Connected {
				continue
			}
			if err := m.Refresh(); err != nil {
				logger.WithError(err).Debug("Refresh skipped")
			}
		}
	}
}

type eventPrinter struct {
	w    io.Writer
	json bool
	now  func() time.Time
}

func newEventPrinter(w io.Writer, format string) *eventPrinter {
	return &eventPrinter{w: w, json: format == "json", now: time.Now}
}

type monitorEventJSON struct {
	Time    time.Time `json:"time"`
	Stream  string    `json:"stream"`
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

func (p *eventPrinter) print(stream string, kind rss.ResultKind, text string, data any) {
	now := p.now()
	if p.json {
		ev := monitorEventJSON{Time: now, Stream: stream, Kind: kind.String()}
		switch v := data.(type) {
		case rss.Result[rss.ConnectionStatePackage]:
			if v.IsSuccess() {
				ev.Data = map[string]string{"state": v.Data.State.String()}
			} else {
				ev.Message = v.Message
			}
		case nil:
			ev.Message = text
		default:
			ev.Data = data
		}
		_ = json.NewEncoder(p.w).Encode(ev)
		return
	}
	fmt.Fprintf(p.w, "%s  %-13s %s\n", now.Format("15:04:05.000"), stream, text)
}
