package main

import (
	"os/signal"
	"syscall"

	"authcore/internal/mq"
	"authcore/internal/service"

	"github.com/spf13/cobra"
)

var mailWorkerCmd = &cobra.Command{
	Use:   "mail-worker",
	Short: "Deliver queued notifications through Resend",
	RunE:  runMailWorker,
}

func init() {
	rootCmd.AddCommand(mailWorkerCmd)
}

func runMailWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer client.Close()

	var mailer service.Mailer = service.LogMailer{Logger: logger}
	if cfg.Mail.ResendAPIKey != "" && cfg.Mail.From != "" {
		mailer = service.NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From, cfg.Mail.AppBaseURL)
	}

	logger.WithField("queue", cfg.RabbitMQ.Queue).Info("mail worker started")
	return mq.ConsumeNotifications(ctx, client, cfg.RabbitMQ.Queue, mailer, logger)
}
