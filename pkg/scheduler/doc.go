/*
Package scheduler fires workflow triggers on cron expressions.

Jobs carry a five-field cron expression or an @every interval, a target
workflow and event, and an optional payload template. The loop sleeps
until the earliest next_run among enabled jobs, wakes, and fires
everything due:

	run loop
	  │ sleep until min(next_run), or 1h idle
	  ▼
	fireDue(now)
	  ├─ TriggerNamed(workflow, agent, event, payload) per due job
	  └─ next_run = schedule.Next(now)   strictly after now

Computing the next firing from now, not from the missed slot, coalesces
late firings: a laptop waking from a three-hour sleep fires each overdue
job once and moves on. next_run advances even when the trigger itself
fails, so a broken target workflow cannot wedge the loop.

Calendar expressions evaluate in the configured timezone; @every
intervals are wall-clock durations and ignore it. Adding, enabling or
removing a job pokes the loop so a nearer deadline takes effect
immediately.
*/
package scheduler
