package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/telekom/taskmail/pkg/mail"
	"github.com/telekom/taskmail/pkg/version"
)

const defaultCommandTimeout = 2 * time.Minute

func newSendTestCommand(rt *runtimeState) *cobra.Command {
	var (
		to      []string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send one test mail synchronously through the configured transports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(to) == 0 {
				return errors.New("at least one --to recipient is required")
			}
			svc, err := rt.newService(false)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Stop(context.Background()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
			defer cancel()
			res, err := svc.Send(ctx, mail.Message{
				To:      to,
				Subject: subject,
				HTML:    fmt.Sprintf("<p>Test mail from %s.</p>", version.UserAgent()),
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent %s via %s (%d attempts)\n", res.MessageID, res.Transport, res.Attempts)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "Recipient address (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "taskmail test", "Subject of the test mail")
	return cmd
}

func newReviewNowCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "review-now",
		Short: "Fire the task review trigger once for today, ignoring the flag file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfg.Review.TriggerURL == "" {
				return errors.New("review.triggerURL is not configured")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
			defer cancel()
			if err := rt.newReviewScheduler().FireNow(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "task review triggered")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show taskmail version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()
			writer := cmd.OutOrStdout()

			switch outputFormat {
			case "json":
				encoder := json.NewEncoder(writer)
				encoder.SetIndent("", "  ")
				return encoder.Encode(info)
			case "yaml":
				data, err := yaml.Marshal(info)
				if err != nil {
					return fmt.Errorf("failed to marshal to YAML: %w", err)
				}
				_, _ = fmt.Fprint(writer, string(data))
				return nil
			case "":
				_, _ = fmt.Fprintln(writer, info.String())
				return nil
			default:
				return fmt.Errorf("unknown output format %q", outputFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, yaml")
	return cmd
}
