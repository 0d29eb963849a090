package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aristath/jobpipe/internal/timerange"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("granularity", func(fl validator.FieldLevel) bool {
		_, err := timerange.ParseGranularity(fl.Field().String())
		return err == nil
	})
	if err != nil {
		panic(fmt.Sprintf("config: registering granularity validation: %v", err))
	}
	return v
}

// Validate checks field constraints and the pipeline shape: task ids are
// unique and every dependency names a task declared earlier.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if seen[t.ID] {
			return fmt.Errorf("invalid config: duplicate task %q", t.ID)
		}
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("invalid config: task %q depends on %q, which is not declared before it", t.ID, dep)
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// ParsedGranularity returns the granularity of a validated task.
func (t TaskConfig) ParsedGranularity() timerange.Granularity {
	g, _ := timerange.ParseGranularity(t.Granularity)
	return g
}
