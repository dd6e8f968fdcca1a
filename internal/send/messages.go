package send

import (
	"sync"

	"go.uber.org/zap"
)

const defaultMessageCapacity = 50

// ZapMessageLog keeps the most recent user-facing errors and mirrors them to zap.
type ZapMessageLog struct {
	logger   *zap.Logger
	capacity int

	mu       sync.Mutex
	messages []string
}

func NewZapMessageLog(logger *zap.Logger, capacity int) *ZapMessageLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = defaultMessageCapacity
	}
	return &ZapMessageLog{logger: logger, capacity: capacity}
}

func (l *ZapMessageLog) AddError(message string) {
	l.logger.Warn("user message", zap.String("message", message))
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, message)
	if over := len(l.messages) - l.capacity; over > 0 {
		l.messages = append([]string(nil), l.messages[over:]...)
	}
}

// Messages returns the retained messages, oldest first.
func (l *ZapMessageLog) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}
