package scheduler

import (
	"time"

	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/queue"
)

// Priorities per trigger. Lower runs sooner.
const (
	PriorityManual = 1
	PriorityScan   = 5
	PriorityDaily  = 10
	PriorityWeekly = 10
)

// Policy returns the queue options for a job enqueued by trigger.
func Policy(trigger model.Trigger) queue.Options {
	switch trigger {
	case model.TriggerManual:
		return queue.Options{
			Priority: PriorityManual,
			Attempts: 3,
			Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 30 * time.Second},
		}
	case model.TriggerScan:
		return queue.Options{
			Priority: PriorityScan,
			Attempts: 3,
			Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 30 * time.Second},
		}
	case model.TriggerWeekly:
		return queue.Options{
			Priority: PriorityWeekly,
			Attempts: 5,
			Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 5 * time.Minute},
		}
	default:
		return queue.Options{
			Priority: PriorityDaily,
			Attempts: 3,
			Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 30 * time.Second},
		}
	}
}
