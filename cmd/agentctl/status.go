package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [sessionID]",
	Short: "Report an active session's state.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(apiURL("/sessions/" + args[0]))
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		defer resp.Body.Close()

		return printJSONResponse(resp)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
