package sim

import (
	"reflect"

	"github.com/sirupsen/logrus"
)

// EventLogger is a hook that writes every event into a logger at debug level.
type EventLogger struct {
	Logger *logrus.Entry
}

// NewEventLogger returns a new EventLogger which writes into the given logger.
// A nil logger selects the sim subsystem logger.
func NewEventLogger(l *logrus.Entry) *EventLogger {
	if l == nil {
		l = logger()
	}

	return &EventLogger{Logger: l}
}

// Func writes the event information into the logger
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	entry := h.Logger.WithFields(logrus.Fields{
		"time":  float64(evt.Time()),
		"event": reflect.TypeOf(evt).String(),
	})

	if name := handlerName(evt.Handler()); name != "" {
		entry = entry.WithField("handler", name)
	}

	entry.Debug("event")
}
