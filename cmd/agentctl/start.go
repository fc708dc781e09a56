package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	startGoal     string
	startModel    string
	startMaxSteps int
	startTab      int64
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session against the given tab and goal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]any{
			"goal":     startGoal,
			"model":    startModel,
			"maxSteps": startMaxSteps,
			"tab":      startTab,
		})
		if err != nil {
			return err
		}

		resp, err := http.Post(apiURL("/sessions"), "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer resp.Body.Close()

		return printJSONResponse(resp)
	},
}

func init() {
	startCmd.Flags().StringVar(&startGoal, "goal", "", "natural-language goal for the session")
	startCmd.Flags().StringVar(&startModel, "model", "", "policy model identifier")
	startCmd.Flags().IntVar(&startMaxSteps, "max-steps", 0, "step budget (0 uses the daemon default)")
	startCmd.Flags().Int64Var(&startTab, "tab", 0, "tab handle to attach to")
	startCmd.MarkFlagRequired("goal")
	rootCmd.AddCommand(startCmd)
}
