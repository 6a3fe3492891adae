package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/cli"
	"github.com/telekom/taskmail/pkg/config"
	"github.com/telekom/taskmail/pkg/mail"
	"github.com/telekom/taskmail/pkg/scheduler"
	"github.com/telekom/taskmail/pkg/system"
	"github.com/telekom/taskmail/pkg/version"
)

// runtimeState carries the parsed flags, logger and configuration between
// the persistent pre-run and the subcommands.
type runtimeState struct {
	opts cli.Options
	zl   *zap.Logger
	log  *zap.SugaredLogger
	cfg  config.Config
}

func newRootCommand() *cobra.Command {
	rt := &runtimeState{}

	root := &cobra.Command{
		Use:          "taskmail",
		Short:        "Notification mail service of the task tracker",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return rt.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.zl != nil {
				_ = rt.zl.Sync()
			}
		},
	}
	rt.opts.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCommand(rt),
		newSendTestCommand(rt),
		newReviewNowCommand(rt),
		newVersionCommand(),
	)
	return root
}

func (rt *runtimeState) init() error {
	zl, err := system.NewLogger(rt.opts.Debug)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	rt.zl = zl
	rt.log = zl.Sugar()
	rt.log.With("version", version.Version).Info("Starting taskmail")
	rt.opts.Print(rt.log)

	cfg, err := config.Load(rt.opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Defaults()
	if rt.opts.ListenAddress != "" {
		cfg.Server.ListenAddress = rt.opts.ListenAddress
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration %s: %w", rt.opts.ConfigPath, err)
	}
	rt.cfg = cfg
	return nil
}

// newDispatcher resolves the configuration set (including env secrets) and
// builds the dispatcher over it.
func (rt *runtimeState) newDispatcher() (*mail.Dispatcher, error) {
	set, err := rt.cfg.ConfigurationSet()
	if err != nil {
		return nil, err
	}
	return mail.NewDispatcher(set,
		mail.WithMaxRetries(rt.cfg.Mail.RetryCount),
		mail.WithBackoff(rt.backoff()),
		mail.WithLogger(rt.log),
		mail.WithDefaultSender(rt.cfg.Mail.SenderAddress, rt.cfg.Mail.SenderName),
	), nil
}

func (rt *runtimeState) backoff() mail.Backoff {
	if rt.cfg.Mail.BackoffStrategy == config.BackoffLinear {
		return mail.LinearBackoff{Step: rt.cfg.InitialBackoffDuration(), Cap: rt.cfg.MaxBackoffDuration()}
	}
	return mail.ExponentialBackoff{Base: rt.cfg.InitialBackoffDuration(), Cap: rt.cfg.MaxBackoffDuration()}
}

func (rt *runtimeState) newService(withQueue bool) (*mail.Service, error) {
	d, err := rt.newDispatcher()
	if err != nil {
		return nil, err
	}
	var q *mail.Queue
	if withQueue {
		q = mail.NewQueue(d, rt.log, rt.cfg.Mail.QueueSize, rt.cfg.Mail.QueueWorkers)
	}
	return mail.NewService(d, q, rt.cfg.Frontend.BrandingName, rt.cfg.Frontend.BaseURL, rt.log), nil
}

func (rt *runtimeState) newReviewScheduler() *scheduler.ReviewScheduler {
	return scheduler.NewReviewScheduler(
		scheduler.NewFileFlagStore(rt.cfg.Review.FlagFile),
		scheduler.NewHTTPTrigger(rt.cfg.Review.TriggerURL, rt.cfg.ReviewTimeoutDuration(), rt.log),
		rt.log,
		scheduler.WithInterval(rt.cfg.ReviewIntervalDuration()),
		scheduler.WithExactMinute(rt.cfg.Review.ExactMinute),
	)
}
