package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

// YAML decode targets. Durations are written as strings ("5s", "2m") and
// converted on load.
type defYAML struct {
	Name    string                `yaml:"name"`
	Trigger types.WorkflowTrigger `yaml:"trigger"`
	Steps   []stepYAML            `yaml:"steps"`
}

type stepYAML struct {
	TargetAgent string         `yaml:"target_agent"`
	Action      string         `yaml:"action"`
	Inputs      map[string]any `yaml:"inputs"`
	Condition   string         `yaml:"condition"`
	OnError     string         `yaml:"on_error"`
	Retry       *retryYAML     `yaml:"retry"`
	Timeout     string         `yaml:"timeout"`
}

type retryYAML struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
	BaseDelay   string `yaml:"base_delay"`
}

// LoadDefinition parses and validates a YAML definition document.
func LoadDefinition(doc []byte) (*types.WorkflowDefinition, error) {
	var raw defYAML
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, errdefs.New(errdefs.KindUsage, "unparseable definition: %v", err)
	}

	def := &types.WorkflowDefinition{
		Schema:  types.SchemaVersion,
		Name:    raw.Name,
		Trigger: raw.Trigger,
		Steps:   make([]types.WorkflowStep, 0, len(raw.Steps)),
	}
	for i, s := range raw.Steps {
		step := types.WorkflowStep{
			TargetAgent: s.TargetAgent,
			Action:      s.Action,
			Inputs:      s.Inputs,
			Condition:   s.Condition,
			OnError:     types.OnError(s.OnError),
		}
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				return nil, errdefs.New(errdefs.KindUsage, "step %d: bad timeout %q", i, s.Timeout)
			}
			step.Timeout = d
		}
		if s.Retry != nil {
			policy := &types.RetryPolicy{
				MaxAttempts: s.Retry.MaxAttempts,
				Backoff:     types.Backoff(s.Retry.Backoff),
			}
			if s.Retry.BaseDelay != "" {
				d, err := time.ParseDuration(s.Retry.BaseDelay)
				if err != nil {
					return nil, errdefs.New(errdefs.KindUsage, "step %d: bad base_delay %q", i, s.Retry.BaseDelay)
				}
				policy.BaseDelay = d
			}
			step.Retry = policy
		}
		def.Steps = append(def.Steps, step)
	}

	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}
	return def, nil
}

// ValidateDefinition checks structural rules, condition syntax, and
// template placement. Definition errors surface here, not at run time.
func ValidateDefinition(def *types.WorkflowDefinition) error {
	if def.Name == "" {
		return errdefs.New(errdefs.KindUsage, "definition name is required")
	}
	if def.Trigger.Agent == "" || def.Trigger.Event == "" {
		return errdefs.New(errdefs.KindUsage, "definition %q: trigger agent and event are required", def.Name)
	}
	if len(def.Steps) == 0 {
		return errdefs.New(errdefs.KindUsage, "definition %q has no steps", def.Name)
	}
	for i, step := range def.Steps {
		if step.TargetAgent == "" {
			return errdefs.New(errdefs.KindUsage, "definition %q step %d: target_agent is required", def.Name, i)
		}
		switch step.OnError {
		case "", types.OnErrorFail, types.OnErrorContinue, types.OnErrorRetry:
		default:
			return errdefs.New(errdefs.KindUsage, "definition %q step %d: unknown on_error %q", def.Name, i, step.OnError)
		}
		if step.OnError == types.OnErrorRetry {
			if step.Retry == nil {
				return errdefs.New(errdefs.KindUsage, "definition %q step %d: on_error=retry requires a retry policy", def.Name, i)
			}
			if step.Retry.MaxAttempts < 1 {
				return errdefs.New(errdefs.KindUsage, "definition %q step %d: max_attempts must be at least 1", def.Name, i)
			}
			switch step.Retry.Backoff {
			case types.BackoffConstant, types.BackoffExponential:
			default:
				return errdefs.New(errdefs.KindUsage, "definition %q step %d: unknown backoff %q", def.Name, i, step.Retry.Backoff)
			}
		}
		if step.Condition != "" {
			if _, err := ParseCondition(step.Condition); err != nil {
				return fmt.Errorf("definition %q step %d: %w", def.Name, i, err)
			}
		}
		if err := validateTemplates(step.Inputs); err != nil {
			return fmt.Errorf("definition %q step %d: %w", def.Name, i, err)
		}
		if step.Timeout < 0 {
			return errdefs.New(errdefs.KindUsage, "definition %q step %d: negative timeout", def.Name, i)
		}
	}
	return nil
}

// Definitions is the persisted catalog of workflow definitions.
type Definitions struct {
	store storage.Store
}

// NewDefinitions creates a definition catalog over the store.
func NewDefinitions(store storage.Store) *Definitions {
	return &Definitions{store: store}
}

// Save validates and persists a definition, replacing any previous version
// under the same name.
func (d *Definitions) Save(def *types.WorkflowDefinition) error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	def.Schema = types.SchemaVersion
	data, err := json.Marshal(def)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err)
	}
	return d.store.Put(storage.NamespaceDefinitions, def.Name, data, 0)
}

// Get returns a definition by name.
func (d *Definitions) Get(name string) (*types.WorkflowDefinition, error) {
	entry, err := d.store.Get(storage.NamespaceDefinitions, name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "definition %q not found", name)
	}
	var def types.WorkflowDefinition
	if err := json.Unmarshal(entry.Value, &def); err != nil {
		return nil, fmt.Errorf("corrupt definition %s: %w", name, err)
	}
	return &def, nil
}

// Delete removes a definition by name.
func (d *Definitions) Delete(name string) error {
	existed, err := d.store.Delete(storage.NamespaceDefinitions, name)
	if err != nil {
		return err
	}
	if !existed {
		return errdefs.New(errdefs.KindNotFound, "definition %q not found", name)
	}
	return nil
}

// List returns all definitions sorted by name.
func (d *Definitions) List() ([]*types.WorkflowDefinition, error) {
	var defs []*types.WorkflowDefinition
	err := d.store.Scan(storage.NamespaceDefinitions, "", func(key string, e *storage.Entry) error {
		var def types.WorkflowDefinition
		if err := json.Unmarshal(e.Value, &def); err != nil {
			return fmt.Errorf("corrupt definition %s: %w", key, err)
		}
		defs = append(defs, &def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Match returns definitions whose trigger matches the (agent, event) pair,
// sorted by name.
func (d *Definitions) Match(agent, event string) ([]*types.WorkflowDefinition, error) {
	defs, err := d.List()
	if err != nil {
		return nil, err
	}
	var matched []*types.WorkflowDefinition
	for _, def := range defs {
		if def.Trigger.Agent == agent && def.Trigger.Event == event {
			matched = append(matched, def)
		}
	}
	return matched, nil
}
