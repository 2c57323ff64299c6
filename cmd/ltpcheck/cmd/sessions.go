package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deepspacecomm/ltpengine/ltp/engine"
)

func init() {
	RootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().StringVarP(&rootDaemonFlag, "daemon", "d", "http://127.0.0.1:8080", rootDaemonFlagDesc)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List ltpd's active sender and receiver sessions",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		summaries, err := fetchSessions(rootDaemonFlag + "/sessions")
		if err != nil {
			return fmt.Errorf("fetching sessions: %w", err)
		}
		printSessions(summaries)
		return nil
	},
}

// fetchSessions fetches and decodes ltpd's /sessions endpoint, grounded on
// ptp/sptp/stats.FetchStats's http.Client-with-timeout-plus-json.Unmarshal
// shape.
func fetchSessions(url string) ([]engine.SessionSummary, error) {
	c := http.Client{Timeout: 2 * time.Second}

	resp, err := c.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var summaries []engine.SessionSummary
	if err := json.Unmarshal(b, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// printSessions renders a session table. Red and green byte counts are
// colored (red for the reliable prefix, green for the best-effort suffix)
// only when stdout is a terminal, the same gate sources.go's ptpcheck
// equivalent never needed since it always wrote to a terminal-attached
// tool, but which this command adds since its output is also meant to be
// piped into scripts.
func printSessions(summaries []engine.SessionSummary) {
	colorize := term.IsTerminal(int(os.Stdout.Fd()))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(20)
	table.SetHeader([]string{"session", "role", "peer engine", "red bytes", "green bytes", "failed"})

	for _, s := range summaries {
		redTotal := "?"
		if s.RedTotal != engine.UnboundedRedLength {
			redTotal = strconv.FormatUint(s.RedTotal, 10)
		}
		redCell := fmt.Sprintf("%d/%s", s.RedBytes, redTotal)
		greenCell := strconv.FormatUint(s.GreenTotal, 10)
		if colorize {
			redCell = color.RedString(redCell)
			greenCell = color.GreenString(greenCell)
		}

		failedCell := "no"
		if s.Failed {
			if colorize {
				failedCell = color.YellowString("yes")
			} else {
				failedCell = "yes"
			}
		}

		table.Append([]string{
			s.SessionID,
			s.Role,
			strconv.FormatUint(s.PeerEngine, 10),
			redCell,
			greenCell,
			failedCell,
		})
	}
	table.Render()
}
