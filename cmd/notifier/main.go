package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"gopkg.in/telebot.v3"

	"github.com/SheetWithoutShit/sws-collector/config"
	"github.com/SheetWithoutShit/sws-collector/internal/logger"
	"github.com/SheetWithoutShit/sws-collector/internal/queue"
)

const (
	maxMessages     = 10
	waitTimeSeconds = 20
)

type notifier struct {
	bot      *telebot.Bot
	client   *sqs.Client
	queueURL string
	log      zerolog.Logger
}

// The notifier drains the alerts queue and delivers each event to Telegram.
// A failed send leaves the message on the queue for redelivery; only
// successfully delivered messages are deleted.
func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.QueueURL == "" {
		log.Fatal().Msg("SQS_NOTIFICATIONS_QUEUE_URL is not set")
	}
	if cfg.TelegramToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}

	bot, err := telebot.NewBot(telebot.Settings{Token: cfg.TelegramToken})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram bot")
	}

	n := &notifier{
		bot:      bot,
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		log:      log,
	}
	n.run(ctx)
}

func (n *notifier) run(ctx context.Context) {
	n.log.Info().Msg("notifier is polling the queue")
	for {
		out, err := n.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(n.queueURL),
			MaxNumberOfMessages: maxMessages,
			WaitTimeSeconds:     waitTimeSeconds,
		})
		if ctx.Err() != nil {
			n.log.Info().Msg("notifier is shutting down")
			return
		}
		if err != nil {
			n.log.Error().Err(err).Msg("could not receive queue messages")
			continue
		}

		for _, message := range out.Messages {
			var event queue.Event
			if err := json.Unmarshal([]byte(aws.ToString(message.Body)), &event); err != nil {
				n.log.Error().Err(err).Msg("malformed notification event, dropping")
				n.delete(ctx, message.ReceiptHandle)
				continue
			}

			if err := n.send(event); err != nil {
				n.log.Error().Err(err).
					Int64("telegram_id", event.TelegramID).
					Msg("could not deliver notification")
				continue
			}
			n.delete(ctx, message.ReceiptHandle)
		}
	}
}

func (n *notifier) send(event queue.Event) error {
	opts := &telebot.SendOptions{DisableNotification: event.DisableNotification}
	if event.ParseMode == queue.ParseModeMarkdown {
		opts.ParseMode = telebot.ModeMarkdown
	}
	_, err := n.bot.Send(&telebot.User{ID: event.TelegramID}, event.Text, opts)
	return err
}

func (n *notifier) delete(ctx context.Context, receiptHandle *string) {
	_, err := n.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(n.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		n.log.Error().Err(err).Msg("could not delete queue message")
	}
}
