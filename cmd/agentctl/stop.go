package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [sessionID]",
	Short: "Stop the active session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequest(http.MethodPost, apiURL("/sessions/"+args[0]+"/stop"), nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("stop session: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNoContent {
			fmt.Println("stopped")
			return nil
		}
		return printJSONResponse(resp)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
