package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusAddr string

// statusCmd queries a running instance's /api/summary endpoint and prints
// it, standing in for the teacher's `serve` command in a domain where the
// long-running server is `run`, not a separate viewer process.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running instance's status endpoint",
	Long: `Status fetches /api/summary from a running ambacore instance's
status server (plugin.status_port in its config) and prints the current
node/edge/dead-state counts and last flush time.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	binName := BinName()
	statusCmd.Example = `  # Query the default local status port
  ` + binName + ` status

  # Query a remote instance
  ` + binName + ` status --addr http://10.0.0.5:8091`

	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8091", "Base URL of the running instance's status server")
}

// summary mirrors statusui.Summary's JSON shape without importing the
// package, keeping the CLI a pure HTTP client of whatever process it
// queries (which may not even be on this machine).
type summary struct {
	NodeCount         int       `json:"nodeCount"`
	EdgeCount         int       `json:"edgeCount"`
	DeadStateCount    int       `json:"deadStateCount"`
	DistinctBlockKeys int       `json:"distinctBlockKeys"`
	Alive             bool      `json:"alive"`
	LastFlush         time.Time `json:"lastFlush,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusAddr + "/api/summary")
	if err != nil {
		return fmt.Errorf("failed to reach status server at %s: %w", statusAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status server returned %s", resp.Status)
	}

	var sum summary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		return fmt.Errorf("failed to decode status response: %w", err)
	}

	fmt.Printf("ambacore instance at %s\n", statusAddr)
	fmt.Printf("  alive:              %t\n", sum.Alive)
	fmt.Printf("  nodes:              %d\n", sum.NodeCount)
	fmt.Printf("  edges:              %d\n", sum.EdgeCount)
	fmt.Printf("  dead states:        %d\n", sum.DeadStateCount)
	fmt.Printf("  distinct block keys: %d\n", sum.DistinctBlockKeys)
	if !sum.LastFlush.IsZero() {
		fmt.Printf("  last flush:         %s\n", sum.LastFlush.Format(time.RFC3339))
	} else {
		fmt.Printf("  last flush:         never\n")
	}
	return nil
}
