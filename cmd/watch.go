package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shawkym/matrixsync/pkg/config"
	"github.com/shawkym/matrixsync/pkg/export"
	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/logger"
	"github.com/shawkym/matrixsync/pkg/matrix"
	"github.com/shawkym/matrixsync/pkg/metrics"
	"github.com/shawkym/matrixsync/pkg/middleware"
	"github.com/shawkym/matrixsync/pkg/tui"
)

var (
	watchTimeoutMs   int
	watchFilter      string
	watchRooms       []string
	watchFullState   bool
	watchPresence    string
	watchUseTUI      bool
	watchMetrics     bool
	watchMetricsAddr string
	watchOutput      string
	watchFormat      string
	watchLogFile     string
	watchConfig      bool
	watchTypes       []string
	watchIgnore      []string
	watchSkipEmpty   bool
	watchRestart     int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Long-poll the sync endpoint and print every snapshot",
	Long: `Log in (or use the configured access token) and follow the account through
the sync endpoint until interrupted. Each snapshot prints its next batch token
and timeline, and can be archived, shown in a terminal viewer or counted in
Prometheus metrics.

Examples:
  # Follow an account with a 5 second long-poll
  matrixsync watch --timeout 5000

  # Only two rooms, archived as JSON Lines
  matrixsync watch --room '!a:example.org' --room '!b:example.org' -o sync.jsonl

  # Terminal viewer with metrics on :9090
  matrixsync watch --tui --metrics

  # Only messages, hide idle polls, restart up to 5 times on server errors
  matrixsync watch --types m.room.message --skip-empty --restart 5
`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().IntVar(&watchTimeoutMs, "timeout", config.DefaultSyncTimeoutMs, "Long-poll timeout in milliseconds")
	watchCmd.Flags().StringVar(&watchFilter, "filter", "", "Filter ID or inline JSON filter")
	watchCmd.Flags().StringSliceVar(&watchRooms, "room", nil, "Only follow these room IDs")
	watchCmd.Flags().BoolVar(&watchFullState, "full-state", false, "Request full room state on the first sync")
	watchCmd.Flags().StringVar(&watchPresence, "presence", "", "Presence while syncing (online, unavailable, offline)")
	watchCmd.Flags().BoolVarP(&watchUseTUI, "tui", "t", false, "Use the terminal viewer")
	watchCmd.Flags().BoolVar(&watchMetrics, "metrics", false, "Expose Prometheus metrics")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Metrics listen address")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Archive snapshots to this file")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "", "Archive format (jsonl, markdown)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "Append a plain-text copy of the output to this file")
	watchCmd.Flags().BoolVar(&watchConfig, "watch-config", false, "Reload the log level when the config file changes")
	watchCmd.Flags().StringSliceVar(&watchTypes, "types", nil, "Only show timeline events of these types (m.room.* matches by prefix)")
	watchCmd.Flags().StringSliceVar(&watchIgnore, "ignore", nil, "Hide events and invites from these user IDs")
	watchCmd.Flags().BoolVar(&watchSkipEmpty, "skip-empty", false, "Hide snapshots without events")
	watchCmd.Flags().IntVar(&watchRestart, "restart", 0, "Restart after transport, 429 or 5xx failures this many times (-1 for always)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	applyWatchFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !watchConfig {
		path = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watch(ctx, cfg, watchOptions{
		out:        cmd.OutOrStdout(),
		useTUI:     watchUseTUI,
		configPath: path,
	})
}

// applyWatchFlags copies explicitly set flags over the configuration.
func applyWatchFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flagChanged(flags, "timeout") {
		cfg.Sync.TimeoutMs = watchTimeoutMs
	}
	if flagChanged(flags, "filter") {
		cfg.Sync.Filter = watchFilter
	}
	if flagChanged(flags, "room") {
		cfg.Sync.Rooms = watchRooms
	}
	if flagChanged(flags, "full-state") {
		fullState := watchFullState
		cfg.Sync.FullState = &fullState
	}
	if flagChanged(flags, "presence") {
		cfg.Sync.SetPresence = watchPresence
	}
	if flagChanged(flags, "metrics") {
		cfg.Metrics.Enabled = watchMetrics
	}
	if flagChanged(flags, "metrics-addr") {
		cfg.Metrics.Addr = watchMetricsAddr
		cfg.Metrics.Enabled = true
	}
	if flagChanged(flags, "output") {
		cfg.Export.Path = watchOutput
	}
	if flagChanged(flags, "format") {
		cfg.Export.Format = watchFormat
	}
	if flagChanged(flags, "log-file") {
		cfg.Logging.File = watchLogFile
	}
	if flagChanged(flags, "types") {
		cfg.Display.EventTypes = watchTypes
	}
	if flagChanged(flags, "ignore") {
		cfg.Display.IgnoreSenders = watchIgnore
	}
	if flagChanged(flags, "skip-empty") {
		cfg.Display.SkipEmpty = watchSkipEmpty
	}
	if flagChanged(flags, "restart") {
		cfg.Restart.MaxRestarts = watchRestart
	}
}

type watchOptions struct {
	out    io.Writer
	useTUI bool
	// configPath enables hot reload of the log level when not empty
	configPath string
	// metricsListener overrides listening on cfg.Metrics.Addr
	metricsListener net.Listener
}

// watch follows the account until ctx is done or a stream fails without a
// restart left.
func watch(ctx context.Context, cfg *config.Config, opts watchOptions) error {
	client, err := matrix.NewClient(cfg.Homeserver.ClientConfig())
	if err != nil {
		return err
	}

	token := cfg.Auth.AccessToken
	if token == "" {
		if cfg.Auth.User == "" || cfg.Auth.Password == "" {
			return errors.New("no credentials: set auth.access_token, or auth.user and auth.password (or run 'matrixsync login')")
		}
		resp, err := client.Login(ctx, cfg.Auth.User, cfg.Auth.Password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Fprintf(opts.out, "Logged in as %s\n", resp.UserID)
		token = resp.AccessToken
	}

	pollOptions, err := cfg.Sync.Parameters()
	if err != nil {
		return err
	}

	var collectors *metrics.Metrics
	if cfg.Metrics.Enabled {
		server, err := startMetricsServer(cfg.Metrics.Addr, opts.metricsListener)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				log.WithError(err).Warn("failed to stop metrics server")
			}
		}()
		collectors = server.GetMetrics()
		pollOptions.Observer = collectors
	}

	sink, err := newSnapshotSink(cfg, opts)
	if err != nil {
		return err
	}
	defer sink.Close()

	if opts.configPath != "" {
		watcher, err := config.NewConfigWatcher(opts.configPath)
		if err != nil {
			log.WithError(err).Warn("failed to create config watcher")
		} else {
			watcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
				if level, err := log.ParseLevel(newConfig.Logging.Level); err == nil {
					log.SetLevel(level)
				}
				sink.logger.LogSystem(fmt.Sprintf("Configuration reloaded (log level %s)", newConfig.Logging.Level))
			})
			go watcher.StartWatching(ctx)
			defer watcher.StopWatching()
		}
	}

	restarts := newRestartPolicy(cfg.Restart)
	if opts.useTUI && cfg.Restart.MaxRestarts != 0 {
		log.Warn("restarts are disabled in the terminal viewer")
	}

	for {
		stream := client.StartEventPolling(ctx, token, pollOptions)
		if collectors != nil {
			collectors.TrackStream(stream)
		}
		sink.begin(ctx, stream.ID().String())

		sink.logger.LogSystem(fmt.Sprintf("Syncing with %s (timeout %s)", client.BaseURL(), pollOptions.Timeout))

		if opts.useTUI {
			if err := tui.Run(sink.tee(stream), cfg.Homeserver.URL); err != nil {
				return err
			}
		} else {
			for update := range stream.Updates() {
				sink.handle(update)
			}
		}
		<-stream.Done()

		if stream.State() != matrix.StateFailed {
			sink.logger.LogSystem(fmt.Sprintf("Stopped. Last batch: %s", stream.Cursor()))
			return nil
		}

		err := stream.Err()
		if opts.useTUI || !restarts.allow(err) {
			return err
		}
		if waitErr := restarts.wait(ctx, err); waitErr != nil {
			sink.logger.LogSystem(fmt.Sprintf("Stopped. Last batch: %s", stream.Cursor()))
			return nil
		}
		if collectors != nil {
			collectors.StreamRestarted(err)
		}
		sink.logger.LogSystem(fmt.Sprintf("Restarting sync (%s) after: %v", restarts.describe(), err))
	}
}

func startMetricsServer(addr string, listener net.Listener) (*metrics.Server, error) {
	server := metrics.NewServer(metrics.ServerConfig{Addr: addr})
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", listener.Addr().String()).Info("metrics server listening")
	return server, nil
}

// snapshotSink runs every update through the display chain, then fans it
// out to the console logger and the archive.
type snapshotSink struct {
	logger   *logger.SnapshotLogger
	exporter *export.Exporter
	archive  *os.File
	chain    *middleware.Chain

	ctx      context.Context
	streamID string
	sequence int
}

// newDisplayChain builds the middleware for the display section.
func newDisplayChain(display config.DisplayConfig) *middleware.Chain {
	chain := middleware.NewChain(middleware.ErrorRecoveryMiddleware(), middleware.LoggingMiddleware())
	if len(display.IgnoreSenders) > 0 {
		chain.Add(middleware.IgnoreSendersMiddleware(display.IgnoreSenders))
	}
	if len(display.EventTypes) > 0 {
		chain.Add(middleware.EventTypeFilterMiddleware(display.EventTypes))
	}
	if display.SkipEmpty {
		chain.Add(middleware.SkipEmptyMiddleware())
	}
	return chain
}

func newSnapshotSink(cfg *config.Config, opts watchOptions) (*snapshotSink, error) {
	console := opts.out
	if opts.useTUI {
		// The viewer owns the terminal.
		console = nil
	}
	snapshotLogger, err := logger.NewSnapshotLogger(cfg.Logging.File, console)
	if err != nil {
		return nil, err
	}
	sink := &snapshotSink{
		logger: snapshotLogger,
		chain:  newDisplayChain(cfg.Display),
		ctx:    context.Background(),
	}

	if cfg.Export.Path == "" {
		return sink, nil
	}
	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		snapshotLogger.Close()
		return nil, err
	}
	archive, err := os.OpenFile(cfg.Export.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		snapshotLogger.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	exporter, err := export.NewExporter(export.ExportOptions{
		Format:            format,
		Title:             "matrixsync - " + cfg.Homeserver.URL,
		IncludeTimestamps: true,
	}, archive)
	if err != nil {
		archive.Close()
		snapshotLogger.Close()
		return nil, err
	}
	sink.exporter = exporter
	sink.archive = archive
	return sink, nil
}

// begin resets the snapshot sequence for a new stream.
func (s *snapshotSink) begin(ctx context.Context, streamID string) {
	s.ctx = ctx
	s.streamID = streamID
	s.sequence = 0
}

// handle processes one update and returns what consumers should see. The
// bool is false when the display chain dropped the snapshot.
func (s *snapshotSink) handle(update matrix.Update) (matrix.Update, bool) {
	if update.Err != nil {
		s.logger.LogError(update.Err)
		return update, true
	}

	s.sequence++
	snapshot, err := s.chain.Process(&middleware.SnapshotContext{
		Ctx:      s.ctx,
		StreamID: s.streamID,
		Sequence: s.sequence,
		Metadata: make(map[string]interface{}),
	}, update.Snapshot)
	if errors.Is(err, middleware.ErrSkip) {
		return update, false
	}
	if err != nil {
		s.logger.LogError(err)
		return update, false
	}

	if s.exporter != nil {
		if err := s.exporter.Export(snapshot); err != nil {
			s.logger.LogError(err)
		}
	}
	s.logger.LogSnapshot(snapshot)
	return matrix.Update{Snapshot: snapshot}, true
}

// tee returns a viewer source that passes every update through the sink
// first. Cancelling the source stops the stream and releases the tee.
func (s *snapshotSink) tee(stream *matrix.Stream) tui.Source {
	source := &teeSource{
		Stream:  stream,
		updates: make(chan matrix.Update),
		quit:    make(chan struct{}),
	}
	go func() {
		defer close(source.updates)
		for update := range stream.Updates() {
			processed, ok := s.handle(update)
			if !ok {
				continue
			}
			select {
			case source.updates <- processed:
			case <-source.quit:
				return
			}
		}
	}()
	return source
}

type teeSource struct {
	*matrix.Stream
	updates  chan matrix.Update
	quit     chan struct{}
	quitOnce sync.Once
}

func (t *teeSource) Updates() <-chan matrix.Update { return t.updates }

func (t *teeSource) Cancel() {
	t.quitOnce.Do(func() { close(t.quit) })
	t.Stream.Cancel()
}

func (s *snapshotSink) Close() {
	if s.exporter != nil {
		summary := s.exporter.Summary()
		if err := s.exporter.Close(); err != nil {
			log.WithError(err).Warn("failed to finish archive")
		}
		s.archive.Close()
		log.WithFields(map[string]interface{}{
			"snapshots":  summary.Snapshots,
			"rooms":      summary.Rooms,
			"events":     summary.Events,
			"last_batch": summary.LastBatch,
		}).Info("archive written")
	}
	if err := s.logger.Close(); err != nil {
		log.WithError(err).Warn("failed to close log file")
	}
}
