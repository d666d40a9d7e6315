package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "camerabridge",
		Short: "CameraBridge - camera preview frames to your screen and browser",
		Long: `CameraBridge opens a camera, negotiates a preview size and pixel format,
and moves every preview frame through a pair of alternating buffers to a
consumer that converts it to RGBA.

Features:
  • V4L2, GStreamer and built-in test pattern sources
  • NV21 and YV12 preview formats with a table-driven conversion
  • MJPEG HTTP stream and X11 preview window
  • Overlay widgets showing frame sequence, slot and rate
  • Live pipeline statistics over WebSocket
  • Persistent configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/camerabridge/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// CAMERABRIDGE_SERVER_PORT, CAMERABRIDGE_LOG_LEVEL
	viper.SetEnvPrefix("CAMERABRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
