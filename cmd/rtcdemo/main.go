// Command rtcdemo runs a tool server and a tool client that talk JSON-RPC
// over a WebRTC data channel.
//
//	rtcdemo server --listen :7000 --secret s3cret
//	rtcdemo client --server host:7000 --token <token printed by the server>
package main

import (
	"context"
	"os"

	"github.com/ray1422/mcprtc/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "rtcdemo",
	Short:        "JSON-RPC tools over a WebRTC data channel",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return cfg.ApplyLogLevel()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mcprtc.yaml", "path of the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "overrides log_level of the configuration")
	rootCmd.AddCommand(serverCmd, clientCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Debugf("exiting: %v", err)
		os.Exit(1)
	}
}
