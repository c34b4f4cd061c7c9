// Package scheduler admits, queues and executes timed device commands.
//
// A Service composes four parts:
//   - RateLimiter: per-requester fixed-window quota
//   - LockGate: operator switch that blocks new admissions
//   - Scheduler: single-execution FIFO with a short cooldown between entries
//   - PulseEngine: drives devices through steady or pulsing sequences
//
// Every admitted entry that reaches execution finishes with exactly one
// Outcome delivered to its Sink, and every execution ends with a final
// "off" to each device it touched. StopAll is always available and
// bypasses both the lock and the quota.
//
// Usage:
//
//	svc := scheduler.NewService(scheduler.OptionsFromConfig(cfg.Scheduler), bridge)
//	svc.SetLogger(logger)
//	res, err := svc.Submit(ctx, scheduler.Request{
//	    RequesterID: "u1",
//	    Kind:        scheduler.KindPulse,
//	    Intensity:   50,
//	    DurationSeconds: 4,
//	})
package scheduler
