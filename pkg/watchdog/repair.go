package watchdog

import (
	"context"
	"time"

	"github.com/notify-relay/relay-go/pkg/health"
	"github.com/notify-relay/relay-go/pkg/log"
)

// Action is what a check did.
type Action uint8

const (
	ActionNone Action = iota
	ActionSkipped
	ActionListenerRestart
	ActionGated
	ActionRestart
	ActionForcedReset
	ActionDeepReset
	ActionBusy
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionSkipped:
		return "SKIPPED"
	case ActionListenerRestart:
		return "LISTENER_RESTART"
	case ActionGated:
		return "GATED"
	case ActionRestart:
		return "RESTART"
	case ActionForcedReset:
		return "FORCED_RESET"
	case ActionDeepReset:
		return "DEEP_RESET"
	case ActionBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForcedReset disables the component, re-enables it and starts it again.
func (w *Watchdog) ForcedReset(ctx context.Context, trigger string) error {
	if !w.repairing.CompareAndSwap(false, true) {
		return ErrRepairInProgress
	}
	defer w.repairing.Store(false)

	silence := w.Silence()
	w.warn("forced reset", "trigger", trigger, "silence", silence)
	w.notify("Resetting notification listener")

	c := w.cfg.Component
	p := w.cfg.Pauses
	ok := true

	if err := c.Disable(ctx); err != nil {
		w.warn("forced reset: disable failed", "error", err)
	}
	if err := pause(ctx, p.Short); err != nil {
		return w.aborted(log.RepairForcedReset, trigger, silence, err)
	}
	if err := c.Enable(ctx); err != nil {
		w.warn("forced reset: enable failed", "error", err)
	}
	if err := pause(ctx, p.Short); err != nil {
		return w.aborted(log.RepairForcedReset, trigger, silence, err)
	}
	if err := w.start(ctx); err != nil {
		ok = false
	}

	w.resetGate()
	n := w.cfg.Liveness.IncForceReset()
	w.cfg.Metrics.Repair(log.RepairForcedReset.String(), ok)
	w.traceRepair(log.RepairForcedReset, trigger, silence, ok)
	w.debugLog("forced reset complete", "count", n, "ok", ok)
	return nil
}

// DeepReset is a forced reset that also clears the liveness timestamps
// and moves the silence baseline to now.
func (w *Watchdog) DeepReset(ctx context.Context, trigger string) error {
	if !w.repairing.CompareAndSwap(false, true) {
		return ErrRepairInProgress
	}
	defer w.repairing.Store(false)

	silence := w.Silence()
	w.warn("deep reset", "trigger", trigger, "silence", silence)
	w.notify("Performing deep reset of notification listener")

	c := w.cfg.Component
	p := w.cfg.Pauses
	ok := true

	if err := c.Disable(ctx); err != nil {
		w.warn("deep reset: disable failed", "error", err)
	}
	if err := pause(ctx, p.Long); err != nil {
		return w.aborted(log.RepairDeepReset, trigger, silence, err)
	}

	w.cfg.Liveness.ClearTimestamps()
	w.mu.Lock()
	w.baseline = w.cfg.Now()
	w.mu.Unlock()

	if err := pause(ctx, p.Short); err != nil {
		return w.aborted(log.RepairDeepReset, trigger, silence, err)
	}
	if err := c.Enable(ctx); err != nil {
		w.warn("deep reset: enable failed", "error", err)
	}
	if err := pause(ctx, p.Long); err != nil {
		return w.aborted(log.RepairDeepReset, trigger, silence, err)
	}
	if err := w.start(ctx); err != nil {
		ok = false
	}

	w.resetGate()
	n := w.cfg.Liveness.IncDeepReset()
	w.cfg.Metrics.Repair(log.RepairDeepReset.String(), ok)
	w.traceRepair(log.RepairDeepReset, trigger, silence, ok)
	w.debugLog("deep reset complete", "count", n, "ok", ok)
	return nil
}

func (w *Watchdog) start(ctx context.Context) error {
	err := w.cfg.Component.Start(ctx)
	if err != nil {
		w.warn("listener start failed", "error", err)
		w.cfg.Health.SetDegraded(health.ReasonInitializationFailed)
		w.notify("Notification listener failed to start")
	}
	return err
}

func (w *Watchdog) resetGate() {
	w.backoff.Reset()
	w.mu.Lock()
	w.lastRetry = time.Time{}
	w.retryWait = 0
	w.mu.Unlock()
}

func (w *Watchdog) aborted(action log.RepairAction, trigger string, silence time.Duration, err error) error {
	w.debugLog("repair interrupted", "action", action, "error", err)
	w.cfg.Metrics.Repair(action.String(), false)
	w.traceRepair(action, trigger, silence, false)
	return err
}
