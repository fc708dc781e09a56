package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "agentctl drives the browser control-plane daemon (agentd).",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://127.0.0.1:8791", "agentd HTTP address")
	viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))
}

func initializeConfig() error {
	viper.SetEnvPrefix("AGENTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if v := viper.GetString("addr"); v != "" {
		serverAddr = v
	}
	return nil
}

func apiURL(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(serverAddr, "/"), path)
}
