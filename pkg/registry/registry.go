// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"reconciliation-engine/internal/common/validation"
)

//go:embed activities.json
var embedded []byte

var (
	defaultOnce sync.Once
	defaultReg  *ActivityRegistry
	defaultErr  error
)

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// Default returns the registry compiled into the binary.
func Default() (*ActivityRegistry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = parse(embedded)
	})
	return defaultReg, defaultErr
}

func parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	reg.validators = make(map[string]*validation.Validator, len(reg.Activities))
	for _, a := range reg.Activities {
		if a.InputSchema == nil {
			continue
		}
		v, err := validation.NewValidator(a.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("activity %s: %w", a.TaskType, err)
		}
		reg.validators[a.TaskType] = v
	}
	return &reg, nil
}

func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// ValidateInput checks raw job variables against the activity's input schema.
// Activities without a schema accept anything.
func (r *ActivityRegistry) ValidateInput(taskType, variables string) error {
	if _, ok := r.Find(taskType); !ok {
		return fmt.Errorf("unknown activity %q", taskType)
	}
	v, ok := r.validators[taskType]
	if !ok {
		return nil
	}
	res, err := v.ValidateJSON(variables)
	if err != nil {
		return err
	}
	return res.Err()
}

// Validate checks that the registry is usable: at least one activity, unique IDs and task types,
// and the identifying fields filled in.
func (r *ActivityRegistry) Validate() error {
	if len(r.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool, len(r.Activities))
	taskTypes := make(map[string]bool, len(r.Activities))
	for _, a := range r.Activities {
		if a.ID == "" {
			return fmt.Errorf("activity missing required field: id")
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate activity ID: %s", a.ID)
		}
		ids[a.ID] = true

		switch {
		case a.DisplayName == "":
			return fmt.Errorf("activity %s missing required field: displayName", a.ID)
		case a.TaskType == "":
			return fmt.Errorf("activity %s missing required field: taskType", a.ID)
		case a.Category == "":
			return fmt.Errorf("activity %s missing required field: category", a.ID)
		}
		if taskTypes[a.TaskType] {
			return fmt.Errorf("duplicate task type: %s", a.TaskType)
		}
		taskTypes[a.TaskType] = true
	}
	return nil
}
