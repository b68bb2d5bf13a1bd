package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/log"
)

// commandContext holds values shared by all commands.
type commandContext struct {
	configPath *string
	log        *logrus.Logger
}

func (c *commandContext) config() (config.Config, error) {
	return config.Load(*c.configPath)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{
		configPath: &configFlag,
		log:        log.GetLogger(),
	}

	rootCmd := &cobra.Command{
		Use:           "rtmix",
		Short:         "Real-time audio and video mixing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newHostCommand(ctx))
	rootCmd.AddCommand(newLayoutCommand(ctx))
	return rootCmd
}
