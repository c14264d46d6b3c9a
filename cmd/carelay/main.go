// Package main provides the CLI entry point for carelay, a Channel Access
// broadcast relay.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/carelay/internal/config"
	"github.com/postalsys/carelay/internal/health"
	"github.com/postalsys/carelay/internal/logging"
	"github.com/postalsys/carelay/internal/metrics"
	"github.com/postalsys/carelay/internal/relay"
	"github.com/postalsys/carelay/internal/sysinfo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "carelay",
		Short: "carelay - Channel Access broadcast relay",
		Long: `carelay receives name-search broadcasts on a local port, resends each one
to a broadcast address and relays every reply back to the client that asked.

Each query gets its own short-lived reply socket so replies from many
servers reach the right client. Sockets with no reply traffic for the idle
timeout are closed.`,
		Version:       sysinfo.Version,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(loadtestCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "carelay %s (%s, %s/%s)\n",
				sysinfo.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			if !verbose {
				return
			}

			info := sysinfo.Collect()
			fmt.Fprintf(out, "Hostname:   %s\n", info.Hostname)
			fmt.Fprintf(out, "Addresses:  %s\n", strings.Join(info.IPAddresses, ", "))
			fmt.Fprintf(out, "Broadcasts: %s\n", strings.Join(info.Broadcasts, ", "))
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also print host addresses usable as forward targets")

	return cmd
}

// runOptions holds the command-line overrides for run.
type runOptions struct {
	configPath    string
	port          int
	listenAddress string
	forward       string
	idleTimeout   time.Duration
	logLevel      string
	logFormat     string
	healthAddress string
}

func runCmd() *cobra.Command {
	cmd, _ := newRunCmd()
	return cmd
}

// newRunCmd returns the run command and the options its flags bind to.
func newRunCmd() (*cobra.Command, *runOptions) {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [PORT]",
		Short: "Run the relay",
		Long: `Run the relay until interrupted.

The listen port comes from the PORT argument, --port or relay.listen_port in
the config file, in that order of precedence.`,
		Example: `  carelay run 5065
  carelay run -c /etc/carelay/config.yaml
  carelay run 5065 --forward 192.168.1.255:5064 --idle-timeout 1m`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd, *opts, args)
			if err != nil {
				return err
			}
			// Past this point errors are not usage errors.
			cmd.SilenceUsage = true
			return runRelay(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "UDP port to listen on for queries")
	cmd.Flags().StringVar(&opts.listenAddress, "listen-address", "", "IPv4 address to listen on (default 0.0.0.0)")
	cmd.Flags().StringVarP(&opts.forward, "forward", "f", "", "Forward target host:port (default 127.255.255.255:5064)")
	cmd.Flags().DurationVar(&opts.idleTimeout, "idle-timeout", 0, "Close sessions idle this long (0 disables)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: text, json")
	cmd.Flags().StringVar(&opts.healthAddress, "health-address", "", "Enable the health server on this address")

	return cmd, opts
}

// loadRunConfig merges the config file, flags and positional port, then
// validates the result.
func loadRunConfig(cmd *cobra.Command, opts runOptions, args []string) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		data, err := os.ReadFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = config.Decode(data); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Relay.ListenPort = opts.port
	}
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", args[0])
		}
		cfg.Relay.ListenPort = port
	}
	if flags.Changed("listen-address") {
		cfg.Relay.ListenAddress = opts.listenAddress
	}
	if flags.Changed("forward") {
		cfg.Relay.ForwardAddress = opts.forward
	}
	if flags.Changed("idle-timeout") {
		cfg.Relay.IdleTimeout = opts.idleTimeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("health-address") {
		cfg.Health.Enabled = true
		cfg.Health.Address = opts.healthAddress
	}

	if cfg.Relay.ListenPort == 0 {
		return nil, fmt.Errorf("listen port is required: pass PORT, --port or set relay.listen_port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runRelay runs the relay until SIGINT or SIGTERM.
func runRelay(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	w, err := logging.Output(logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		defer c.Close()
	}
	logger := logging.NewLoggerWithWriter(cfg.Log.Level, cfg.Log.Format, w)

	r, err := relay.New(cfg.RelayConfig(), logger, metrics.Default())
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	defer r.Close()

	if cfg.Health.Enabled {
		hs := health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
			ListenAddr:   r.ListenAddr().String(),
			ForwardAddr:  r.ForwardAddr().String(),
		}, r, logger)
		if err := hs.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer hs.Stop()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("relay started",
		"version", sysinfo.Version,
		logging.KeyLocalAddr, r.ListenAddr().String(),
		logging.KeyForwardTo, r.ForwardAddr().String())

	if err := r.Run(ctx); err != nil {
		return err
	}

	stats := r.Stats()
	logger.Info("shutdown complete",
		"queries", stats.QueriesTotal,
		logging.KeyReplies, stats.RepliesTotal,
		"sessions", stats.SessionsCreated)
	return nil
}
