/*
Package workflow runs multi-step automations defined in YAML.

A definition names an ordered list of steps; each step targets one agent
action with templated inputs, an optional guard condition, and an error
policy. Runs are persisted after every state change, so a run interrupted
by a crash resumes from its cursor when the engine restarts.

# Architecture

	┌─────────────────── WORKFLOW ENGINE ────────────────────┐
	│                                                         │
	│  Trigger(agent, event) / TriggerNamed(workflow)         │
	│    │  match or pin definition, create run (pending)     │
	│    ▼                                                    │
	│  ┌───────────────┐      ┌───────────────────────────┐   │
	│  │ queue (1024)  │─────▶│ worker pool, min(8,cores) │   │
	│  └───────────────┘      │  execute(run_id)          │   │
	│         full? ──▶ capacity error, run removed           │
	│                         │   ├─ condition → skip      │   │
	│                         │   ├─ invoke + retries      │   │
	│                         │   └─ persist after each    │   │
	│                         └───────────────────────────┘   │
	│                                                         │
	│  States: pending ─▶ running ─▶ succeeded│failed│cancelled│
	│                       │                                  │
	│                       └──▶ paused ──Resume──▶ running    │
	└─────────────────────────────────────────────────────────┘

# Templates and conditions

Step inputs may embed {{ vars.path }} references. The vars document
accumulates as the run progresses: the trigger payload lands under
vars.trigger, each completed step's output under vars.step[N] (1-based)
with an added "ok" flag. Unresolvable paths render empty; malformed
template syntax is rejected when the definition is saved.

Conditions are a restricted boolean grammar over vars paths and literals:
and/or/not, ==/!=, parentheses, and bare-path truthiness. No arithmetic,
no function calls. A false condition skips the step without failing the
run.

# Error policies

on_error is one of fail (default), continue, retry. Retry re-invokes up
to max_attempts with constant or exponential backoff; exhausting retries
falls through to continue semantics, recording the step as failed with
ok:false in vars. Only fail stops the run.

Every run mutation goes through compare-and-swap against the stored
version, so a concurrent Cancel and a worker's own write never clobber
each other. The worker holding a run is the only writer while the run is
active; external Cancel/Pause of an active run are delivered as flags the
worker observes between steps.
*/
package workflow
