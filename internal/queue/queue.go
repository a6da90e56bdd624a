package queue

import "context"

// Parse modes understood by the delivery bot.
const ParseModeMarkdown = "markdown"

// Event is one rendered alert destined for out-of-band delivery. It is
// ephemeral: composed, enqueued and consumed, never persisted by the collector.
type Event struct {
	TelegramID          int64  `json:"telegram_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification"`
}

// Publisher pushes alert events onto the asynchronous delivery queue.
// Implementations must treat each Publish independently; a failed message
// never affects its siblings.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
