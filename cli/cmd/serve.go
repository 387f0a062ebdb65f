/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Reckless312/peerchat/chat/relay"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a headless relay for a chat room",
	Long: `Runs only the relay, without joining it as a participant. The
display name still names the room's host rank; a client connecting under
that name holds it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hostName := viper.GetString(displayNameKey)
		if hostName == "" {
			return fmt.Errorf("a display name is required to name the host")
		}
		logger := newLogger(false)

		r := relay.New(relay.Config{
			ListenAddress: viper.GetString(listenAddressKey),
			HostName:      hostName,
			Capacity:      viper.GetInt(capacityKey),
			MinOccupancy:  viper.GetInt(minOccupancyKey),
			IdleTimeout:   viper.GetDuration(idleTimeoutKey),
		}, logger)
		if err := r.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.Shutdown()
				return nil
			case <-ticker.C:
				if !r.IsRunning() {
					return nil
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
