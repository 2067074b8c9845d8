/*
Package health tracks per-agent execution outcomes and raises alerts on
status transitions.

Every tracked execution appends one durable sample (agent, activity,
duration, success, context). Rollups over a sliding window classify each
agent:

  - healthy: success rate >= 95% and no error in the last quarter window
  - degraded: rate >= 50%, or the last three runs are mixed
  - down: rate < 50% and the last three runs all failed
  - unknown: no samples in the window

When an agent moves from healthy or unknown into degraded or down, the
monitor sends itself a message: an urgent alert from the health-monitor
agent through the regular bus, so alerts queue, persist, and surface
exactly like any other message. Recovery back to healthy emits a
high-priority notice. Repeats of the same transition within five minutes
are suppressed.

Samples older than the retention horizon are dropped by Cleanup, which
the owning runtime calls periodically. Percentiles in rollups use
nearest-rank over the window's durations.
*/
package health
