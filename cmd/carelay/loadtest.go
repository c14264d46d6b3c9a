package main

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/postalsys/carelay/internal/loadtest"
)

func loadtestCmd() *cobra.Command {
	var (
		target      string
		concurrency int
		payload     string
		qps         float64
		duration    time.Duration
		timeout     time.Duration
		responder   string
		replies     int
	)

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Send query load through a running relay",
		Long: `Send queries to a relay from many short-lived client sockets and report
how many were answered.

Every query opens a new session in the relay. With --responder a local
responder answers on that address; point the relay's forward address at it.`,
		Example: `  carelay run 5065 --forward 127.0.0.1:5064 &
  carelay loadtest --target 127.0.0.1:5065 --responder 127.0.0.1:5064 --qps 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := net.ResolveUDPAddr("udp4", target)
			if err != nil {
				return fmt.Errorf("invalid target: %w", err)
			}
			size, err := humanize.ParseBytes(payload)
			if err != nil || size < 1 || size > 65507 {
				return fmt.Errorf("invalid payload size %q", payload)
			}
			cmd.SilenceUsage = true

			out := cmd.OutOrStdout()

			if responder != "" {
				resp, err := loadtest.NewResponder(responder, replies)
				if err != nil {
					return err
				}
				go resp.Serve()
				defer func() {
					resp.Close()
					fmt.Fprintf(out, "Responder:       %s queries seen, %s replies sent\n",
						humanize.Comma(resp.Received()), humanize.Comma(resp.Sent()))
				}()
				fmt.Fprintf(out, "Responder listening on %s (%d replies per query)\n", resp.Addr(), replies)
			}

			fmt.Fprintf(out, "Sending %s queries to %s for %s with %d workers\n",
				humanize.IBytes(size), addr, duration, concurrency)

			gen := loadtest.NewQueryLoadGenerator(addr, concurrency, int(size), qps, duration, timeout)
			m, err := gen.Run(cmd.Context())
			if err != nil {
				return err
			}

			printQueryMetrics(out, m)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "127.0.0.1:5065", "Relay listen address")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 8, "Concurrent clients")
	cmd.Flags().StringVar(&payload, "payload", "64B", "Query payload size")
	cmd.Flags().Float64Var(&qps, "qps", 0, "Aggregate queries per second (0 for unlimited)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "Test duration")
	cmd.Flags().DurationVar(&timeout, "timeout", 500*time.Millisecond, "How long each client waits for replies")
	cmd.Flags().StringVar(&responder, "responder", "", "Run a responder on this address")
	cmd.Flags().IntVar(&replies, "replies", 1, "Replies the responder sends per query")

	return cmd
}

func printQueryMetrics(w io.Writer, m *loadtest.QueryMetrics) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Queries:         %s (%.1f/s)\n", humanize.Comma(m.TotalQueries), m.QueriesPerSecond)
	fmt.Fprintf(w, "Answered:        %s (%.1f%%)\n", humanize.Comma(m.AnsweredQueries), m.AnswerRate()*100)
	fmt.Fprintf(w, "Timed out:       %s\n", humanize.Comma(m.TimedOutQueries))
	fmt.Fprintf(w, "Failed:          %s\n", humanize.Comma(m.FailedQueries))
	fmt.Fprintf(w, "Replies:         %s\n", humanize.Comma(m.TotalReplies))
	fmt.Fprintf(w, "Bytes sent/read: %s / %s\n",
		humanize.IBytes(uint64(m.TotalBytesSent)), humanize.IBytes(uint64(m.TotalBytesRead)))
	if m.AnsweredQueries > 0 {
		fmt.Fprintf(w, "First reply:     min %.2fms avg %.2fms max %.2fms\n",
			m.MinLatencyMs, m.AvgLatencyMs, m.MaxLatencyMs)
	}
}
