package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ledger-query-workers/internal/common/validation"
)

//go:embed activities.json
var embeddedCatalog []byte

// Default returns the catalog compiled into the binary.
func Default() (*ActivityRegistry, error) {
	return Parse(embeddedCatalog)
}

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode activity catalog: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks ids, task types, timeouts and that every schema compiles.
func (r *ActivityRegistry) Validate() error {
	seen := map[string]bool{}
	for _, a := range r.Activities {
		if err := validation.ValidateActivityNaming(a.ID); err != nil {
			return fmt.Errorf("activity %q: %w", a.ID, err)
		}
		if a.TaskType == "" {
			return fmt.Errorf("activity %q: taskType is required", a.ID)
		}
		if seen[a.TaskType] {
			return fmt.Errorf("activity %q: duplicate taskType %q", a.ID, a.TaskType)
		}
		seen[a.TaskType] = true
		if _, err := a.TimeoutDuration(); err != nil {
			return fmt.Errorf("activity %q: %w", a.ID, err)
		}
		if _, err := validation.Compile(a.ID+".input", a.InputSchema); err != nil {
			return err
		}
		if _, err := validation.Compile(a.ID+".output", a.OutputSchema); err != nil {
			return err
		}
	}
	return nil
}

func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// InputSchema compiles the input schema of taskType.
func (r *ActivityRegistry) InputSchema(taskType string) (*validation.Schema, error) {
	a, ok := r.Find(taskType)
	if !ok {
		return nil, fmt.Errorf("no activity for task type %q", taskType)
	}
	return validation.Compile(a.ID+".input", a.InputSchema)
}

// TimeoutDuration parses Timeout ("30s", "10m"). Empty means zero.
func (a *Activity) TimeoutDuration() (time.Duration, error) {
	if a.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", a.Timeout, err)
	}
	return d, nil
}
