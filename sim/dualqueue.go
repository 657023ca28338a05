package sim

import (
	"reflect"

	"github.com/sirupsen/logrus"
)

// dualQueue keeps the primary and the secondary events of an engine.
type dualQueue struct {
	queue          EventQueue
	secondaryQueue EventQueue
}

func newDualQueue() dualQueue {
	return dualQueue{
		queue:          NewEventQueue(),
		secondaryQueue: NewEventQueue(),
	}
}

func (q dualQueue) push(evt Event) {
	if evt.IsSecondary() {
		q.secondaryQueue.Push(evt)
		return
	}

	q.queue.Push(evt)
}

func (q dualQueue) empty() bool {
	return q.queue.Len() == 0 && q.secondaryQueue.Len() == 0
}

func (q dualQueue) peek() Event {
	primaryEvt := q.queue.Peek()
	secondaryEvt := q.secondaryQueue.Peek()

	switch {
	case primaryEvt == nil:
		return secondaryEvt
	case secondaryEvt == nil:
		return primaryEvt
	case primaryEvt.Time() <= secondaryEvt.Time():
		return primaryEvt
	default:
		return secondaryEvt
	}
}

func (q dualQueue) pop() Event {
	primaryEvt := q.queue.Peek()
	secondaryEvt := q.secondaryQueue.Peek()

	switch {
	case primaryEvt == nil:
		return q.secondaryQueue.Pop()
	case secondaryEvt == nil:
		return q.queue.Pop()
	case primaryEvt.Time() <= secondaryEvt.Time():
		return q.queue.Pop()
	default:
		return q.secondaryQueue.Pop()
	}
}

func (q dualQueue) clear() int {
	return q.queue.Clear() + q.secondaryQueue.Clear()
}

// handleEvent runs one event between the before and after hooks. Non-fatal
// handler errors are logged and swallowed.
func handleEvent(hooks *HookableBase, domain Hookable, evt Event) error {
	hookCtx := HookCtx{
		Domain: domain,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	hooks.InvokeHook(hookCtx)

	handler := evt.Handler()
	err := handler.Handle(evt)

	hookCtx.Pos = HookPosAfterEvent
	hooks.InvokeHook(hookCtx)

	if err == nil {
		return nil
	}

	entry := logger().WithFields(logrus.Fields{
		"time":    float64(evt.Time()),
		"handler": handlerName(handler),
		"event":   reflect.TypeOf(evt).String(),
	}).WithError(err)

	if IsFatal(err) {
		entry.Error("fatal event handler error, stopping")
		return err
	}

	entry.Error("event handler failed")

	return nil
}
