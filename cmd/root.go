// Package cmd assembles the command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundguardian/sentinel-go/cmd/file"
	"github.com/soundguardian/sentinel-go/cmd/monitor"
	"github.com/soundguardian/sentinel-go/cmd/notify"
	"github.com/soundguardian/sentinel-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Acoustic emergency monitoring for deaf and hard-of-hearing users",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		monitor.Command(settings),
		file.Command(settings),
		notify.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Classifier.ModelPath, "model", viper.GetString("classifier.modelpath"), "Path to the sound classifier model")
	rootCmd.PersistentFlags().StringVar(&settings.Classifier.LabelPath, "labels", viper.GetString("classifier.labelpath"), "Path to the classifier label file")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
