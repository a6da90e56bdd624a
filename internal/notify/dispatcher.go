package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SheetWithoutShit/sws-collector/internal/limits"
	"github.com/SheetWithoutShit/sws-collector/internal/queue"
	"github.com/SheetWithoutShit/sws-collector/models"
)

const (
	transactionText = "*Transaction!* 💲\n\n" +
		"▪️ Amount: *%v*\n" +
		"▪️ Category: *%s*\n" +
		"▪️ Info: *%s*\n" +
		"▪️ Balance: *%v*\n" +
		"▪ Timestamp: *%s*"
	limitText = "*Limit Exceeded!* ⛔️\n\n" +
		"▪️ Category: *%s*\n" +
		"▪️ Category Limit: *%v*\n" +
		"▪️ Exceeded by: *%v*\n"

	timestampLayout = "02.01.2006 15:04:05"
	jobTimeout      = 30 * time.Second
)

// UserStore loads the notification target for a user.
type UserStore interface {
	UserByID(ctx context.Context, userID int64) (*models.User, error)
}

// CategoryResolver renders the category name for an MCC code.
type CategoryResolver interface {
	CategoryName(ctx context.Context, code int) (string, error)
}

// LimitEvaluator decides whether the transaction crossed a spend ceiling.
type LimitEvaluator interface {
	Evaluate(ctx context.Context, userID int64, code int) *limits.Exceeded
}

// TransactionPublisher is the real-time sink.
type TransactionPublisher interface {
	PublishTransaction(userID int64, stmt models.Statement)
}

type job struct {
	id     string
	userID int64
	stmt   models.Statement
}

// Dispatcher fans each persisted transaction out to the real-time channel and
// the asynchronous delivery queue. Enqueue never blocks the caller: jobs go
// through a bounded buffer drained by a fixed worker pool, and every failure
// is logged instead of propagated.
type Dispatcher struct {
	users      UserStore
	categories CategoryResolver
	limits     LimitEvaluator
	realtime   TransactionPublisher
	publisher  queue.Publisher
	log        zerolog.Logger

	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts workers goroutines draining a buffer of size jobs.
func NewDispatcher(
	users UserStore,
	categories CategoryResolver,
	evaluator LimitEvaluator,
	realtime TransactionPublisher,
	publisher queue.Publisher,
	workers, buffer int,
	log zerolog.Logger,
) *Dispatcher {
	d := &Dispatcher{
		users:      users,
		categories: categories,
		limits:     evaluator,
		realtime:   realtime,
		publisher:  publisher,
		log:        log,
		jobs:       make(chan job, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue hands a persisted transaction to the worker pool. When the buffer
// is full the job is dropped and logged; ingestion is never delayed by slow
// sinks.
func (d *Dispatcher) Enqueue(userID int64, stmt models.Statement) {
	j := job{id: uuid.New().String(), userID: userID, stmt: stmt}
	select {
	case d.jobs <- j:
	default:
		d.log.Warn().
			Str("job_id", j.id).
			Int64("user_id", userID).
			Str("transaction_id", stmt.ID).
			Msg("dispatch buffer full, notification dropped")
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.process(j)
	}
}

// process runs both sinks concurrently; neither waits for or fails the other.
func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	var sinks sync.WaitGroup
	sinks.Add(2)
	go func() {
		defer sinks.Done()
		d.realtime.PublishTransaction(j.userID, j.stmt)
	}()
	go func() {
		defer sinks.Done()
		d.pushAlerts(ctx, j)
	}()
	sinks.Wait()
}

func (d *Dispatcher) pushAlerts(ctx context.Context, j job) {
	user, err := d.users.UserByID(ctx, j.userID)
	if err != nil {
		d.log.Error().Err(err).
			Str("job_id", j.id).
			Int64("user_id", j.userID).
			Str("transaction_id", j.stmt.ID).
			Msg("could not load user for notifications")
		return
	}
	if user.TelegramID == nil {
		// Nothing to deliver to: the user never linked a telegram account.
		return
	}

	var events []queue.Event
	if user.NotificationsEnabled {
		events = append(events, d.transactionAlert(ctx, *user.TelegramID, j.stmt))
	}
	if exceeded := d.limits.Evaluate(ctx, j.userID, j.stmt.MCC); exceeded != nil {
		events = append(events, limitAlert(*user.TelegramID, exceeded))
	}

	for _, event := range events {
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.log.Error().Err(err).
				Str("job_id", j.id).
				Int64("user_id", j.userID).
				Str("transaction_id", j.stmt.ID).
				Msg("could not enqueue notification event")
		}
	}
}

func (d *Dispatcher) transactionAlert(ctx context.Context, telegramID int64, stmt models.Statement) queue.Event {
	category, err := d.categories.CategoryName(ctx, stmt.MCC)
	if err != nil {
		category = "-"
	}
	date := time.Unix(stmt.Timestamp, 0).Format(timestampLayout)
	text := fmt.Sprintf(transactionText, stmt.Amount, category, stmt.Info, stmt.Balance, date)
	return queue.Event{
		TelegramID:          telegramID,
		Text:                text,
		ParseMode:           queue.ParseModeMarkdown,
		DisableNotification: true,
	}
}

func limitAlert(telegramID int64, exceeded *limits.Exceeded) queue.Event {
	text := fmt.Sprintf(limitText, exceeded.Category, exceeded.Limit, exceeded.Overage)
	return queue.Event{
		TelegramID:          telegramID,
		Text:                text,
		ParseMode:           queue.ParseModeMarkdown,
		DisableNotification: true,
	}
}
