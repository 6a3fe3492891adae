package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telekom/taskmail/pkg/api"
	"github.com/telekom/taskmail/pkg/cli"
)

func newServeCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mail API, the mail queue and the task review scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.serve(ctx)
		},
	}
}

func (rt *runtimeState) serve(ctx context.Context) error {
	log := rt.log
	if rt.opts.Debug {
		log.Debugf("%#v", rt.cfg.Server)
	}

	server, err := api.NewServer(rt.zl, rt.cfg, rt.opts.Debug, nil)
	if err != nil {
		return err
	}
	defer server.Close()

	svc, err := rt.newService(!rt.opts.DisableQueue)
	if err != nil {
		return err
	}
	svc.Start()

	if err := server.RegisterAll([]api.APIController{
		api.NewMailController(log, svc, server.Auth()),
	}); err != nil {
		log.Errorw("Error registering mail controller", "error", err)
		return errors.Join(err, svc.Stop(context.Background()))
	}

	// Background routines
	if rt.cfg.Review.Enabled && !rt.opts.DisableScheduler {
		go rt.newReviewScheduler().Run(ctx)
	} else {
		log.Infow("Task review scheduler disabled",
			"reviewEnabled", rt.cfg.Review.Enabled,
			"disableScheduler", rt.opts.DisableScheduler)
	}

	listenErr := server.Listen(ctx)
	if listenErr != nil {
		log.Errorw("API server stopped with error", "error", listenErr)
	}

	timeout := cli.ParseShutdownTimeout(rt.opts.ShutdownTimeout, log)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Warnw("Mail service did not stop cleanly", "error", err)
		return errors.Join(listenErr, err)
	}
	log.Info("taskmail stopped")
	return listenErr
}
