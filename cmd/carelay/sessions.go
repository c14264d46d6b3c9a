package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/carelay/internal/health"
)

func sessionsCmd() *cobra.Command {
	var (
		address string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions of a running relay",
		Long: `Fetch the session table from a running relay's health server.

The relay must be started with the health server enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := fetchSessions(ctx, address)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			styled := false
			if f, ok := w.(*os.File); ok {
				styled = term.IsTerminal(int(f.Fd()))
			}
			return renderSessions(w, resp, time.Now(), styled)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:9465", "Health server address of the relay")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	return cmd
}

// fetchSessions requests /sessions from a relay health server.
func fetchSessions(ctx context.Context, address string) (*health.SessionsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+"/sessions", nil)
	if err != nil {
		return nil, err
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay at %s: %w", address, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("relay returned %s: %s", res.Status, body)
	}

	var out health.SessionsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return &out, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// renderSessions writes the session table. Styled output is for terminals;
// otherwise columns are tab-aligned plain text.
func renderSessions(w io.Writer, resp *health.SessionsResponse, now time.Time, styled bool) error {
	headers := []string{"ID", "ORIGIN", "REPLY ENDPOINT", "CREATED", "LAST REPLY", "REPLIES"}

	rows := make([][]string, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		lastReply := "-"
		if s.Replies > 0 {
			lastReply = humanize.RelTime(s.LastActivity, now, "ago", "from now")
		}
		rows = append(rows, []string{
			s.ID.String(),
			s.Origin,
			s.ReplyEndpoint,
			humanize.RelTime(s.CreatedAt, now, "ago", "from now"),
			lastReply,
			strconv.FormatUint(s.Replies, 10),
		})
	}

	summary := fmt.Sprintf("%s, listening on %s, forwarding to %s",
		plural(len(rows), "session"), resp.Listen, resp.Forward)

	if !styled {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, summary)
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	_, err := fmt.Fprintf(w, "%s\n%s\n", t.Render(), dimStyle.Render(summary))
	return err
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}
