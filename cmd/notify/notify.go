// Package notify implements the test-alert command.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundguardian/sentinel-go/internal/alert"
	"github.com/soundguardian/sentinel-go/internal/conf"
)

// Command creates the notify command. It sends a test alert through the
// configured delivery URLs so users can verify their setup before relying
// on it.
func Command(settings *conf.Settings) *cobra.Command {
	var severity string
	cmd := &cobra.Command{
		Use:   "notify [message]",
		Short: "Send a test alert to the configured contacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := "This is a test alert. Your emergency notifications are working."
			if len(args) == 1 {
				message = args[0]
			}
			return sendTestAlert(settings, alert.Severity(severity), message)
		},
	}
	cmd.Flags().StringVar(&severity, "severity", string(alert.SeverityLow), "Alert severity (low, medium, high, critical)")
	return cmd
}

func sendTestAlert(settings *conf.Settings, severity alert.Severity, message string) error {
	service, err := alert.NewService(settings.Main.Name, &settings.Alert)
	if err != nil {
		return err
	}

	a := alert.NewAlert(severity, "test", message, service.Contacts())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.Send(ctx, a); err != nil {
		return err
	}

	fmt.Printf("Test alert %s delivered (severity %s)\n", a.ID, severity)
	return nil
}
