package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type statusResponse struct {
	Enabled         bool   `json:"enabled"`
	ActiveCount     int    `json:"active_snapshots"`
	FreeCount       int    `json:"free_snapshots"`
	CurrentID       uint64 `json:"current_snapshot_id"`
	CurrentRefCount int32  `json:"current_snapshot_refcount"`
	LatchState      string `json:"latch_state"`
	ReloadRequested bool   `json:"reload_requested"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the engine's active snapshot, registry counts and latch state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(adminAddr + "/admin/status")
		if err != nil {
			return fmt.Errorf("querying %s: %w", adminAddr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status endpoint returned %s", resp.Status)
		}

		var st statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return fmt.Errorf("decoding status response: %w", err)
		}

		fmt.Printf("enabled:            %v\n", st.Enabled)
		fmt.Printf("current snapshot:   %d\n", st.CurrentID)
		fmt.Printf("snapshot refcount:  %d\n", st.CurrentRefCount)
		fmt.Printf("active snapshots:   %d\n", st.ActiveCount)
		fmt.Printf("free snapshots:     %d\n", st.FreeCount)
		fmt.Printf("latch state:        %s\n", st.LatchState)
		fmt.Printf("reload requested:   %v\n", st.ReloadRequested)
		return nil
	},
}
