/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	displayNameKey   = "display_name"
	listenAddressKey = "listen_address"
	inviteAddressKey = "invite_address"
	capacityKey      = "capacity"
	minOccupancyKey  = "min_occupancy"
	idleTimeoutKey   = "idle_timeout"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "peerchat",
	Short: "Peer-hosted chat rooms over plain TCP",
	Long: `peerchat runs small chat rooms where one participant's process
doubles as the relay. Host a room with 'peerchat chat', join one with
'peerchat chat --invite host:port', or run a headless relay with
'peerchat serve'.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.peerchat.yaml)")
	rootCmd.PersistentFlags().StringP("name", "n", "", "Display name used in the chat room")
	rootCmd.PersistentFlags().String("listen", ":29170", "Address the relay binds when hosting")
	rootCmd.PersistentFlags().String("invite", "", "Relay address to join; empty means host the room yourself")

	viper.BindPFlag(displayNameKey, rootCmd.PersistentFlags().Lookup("name"))
	viper.BindPFlag(listenAddressKey, rootCmd.PersistentFlags().Lookup("listen"))
	viper.BindPFlag(inviteAddressKey, rootCmd.PersistentFlags().Lookup("invite"))
	viper.SetDefault(listenAddressKey, ":29170")
	viper.SetDefault(inviteAddressKey, "")
	viper.SetDefault(capacityKey, 20)
	viper.SetDefault(minOccupancyKey, 2)
	viper.SetDefault(idleTimeoutKey, 3*time.Minute)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".peerchat" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".peerchat")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// newLogger builds the process logger. The TUI passes quiet=true so log
// lines cannot corrupt the screen.
func newLogger(quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelError + 1
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
