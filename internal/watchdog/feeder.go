// Package watchdog feeds the systemd watchdog as long as the DUT power
// supervisor's real-time thread is still making progress, so a stalled
// safety-critical thread takes the whole process down (and, under a
// systemd unit with Restart=, restarts it) instead of silently leaving the
// DUT power rail unsupervised. Grounded on original_source/src/watchdog.rs.
package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/linux-automation/tacd-go/pkg/log"
	"github.com/linux-automation/tacd-go/pkg/runtimeEnv"
)

// TickSource reports a monotonically increasing liveness counter, as
// incremented by the DUT power supervisor's real-time thread once per
// completed loop iteration.
type TickSource interface {
	Tick() uint32
}

// ErrStalled is returned by KeepFed when the tick source stopped advancing.
var ErrStalled = errors.New("watchdog: tick source stalled")

// KeepFed blocks, notifying systemd at half the requested watchdog interval
// as long as source's tick counter keeps advancing between checks. If it
// ever finds the same value twice in a row, it sends a final
// "WATCHDOG=trigger" notification (forcing systemd to treat this as a
// watchdog timeout rather than a clean exit) and returns ErrStalled. If no
// watchdog was requested (WATCHDOG_USEC unset), it blocks until ctx is
// canceled and returns nil: this task is simply not needed.
func KeepFed(ctx context.Context, source TickSource) error {
	interval, enabled := runtimeEnv.WatchdogInterval()
	if !enabled {
		log.Info("watchdog: not requested by systemd, disabling")
		<-ctx.Done()
		return nil
	}

	interval /= 2

	if err := runtimeEnv.Notify("READY=1"); err != nil {
		log.Warnf("watchdog: could not notify READY: %s", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastTick uint32
	haveLastTick := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		tick := source.Tick()
		if haveLastTick && tick == lastTick {
			log.Error("watchdog: DUT power thread has stalled, triggering watchdog")
			_ = runtimeEnv.Notify("WATCHDOG=trigger")
			return ErrStalled
		}
		lastTick = tick
		haveLastTick = true

		if err := runtimeEnv.Notify("WATCHDOG=1"); err != nil {
			log.Warnf("watchdog: notify failed: %s", err)
		}
	}
}
