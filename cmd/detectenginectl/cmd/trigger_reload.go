package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type reloadResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

var triggerReloadCmd = &cobra.Command{
	Use:   "trigger-reload",
	Short: "Request a rule reload on the running engine",
	Long: `Raises the engine's reload latch via the admin HTTP endpoint. The command
returns as soon as the request is accepted; the engine's control loop
performs the actual reload asynchronously. Use "status" to observe the
latch returning to idle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Post(adminAddr+"/admin/reload", "application/json", nil)
		if err != nil {
			return fmt.Errorf("requesting reload at %s: %w", adminAddr, err)
		}
		defer resp.Body.Close()

		var rr reloadResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return fmt.Errorf("decoding reload response: %w", err)
		}

		if !rr.Accepted {
			return fmt.Errorf("reload rejected: %s", rr.Message)
		}
		fmt.Println("reload requested")
		return nil
	},
}
