package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/vigil/internal/journey"
)

// BuildRegistry converts the parsed config into the typed attempt and flow
// registry the engine executes. The config should be validated first; kind
// errors still come back as errors rather than panics.
func BuildRegistry(cfg *Config) (*journey.Registry, error) {
	reg := &journey.Registry{}

	for _, j := range cfg.Vigil.Journeys {
		timeout, err := parseDuration(j.Timeout)
		if err != nil {
			return nil, fmt.Errorf("journey %s: %w", j.ID, err)
		}

		spec := journey.AttemptSpec{
			ID:      j.ID,
			Name:    j.Name,
			Impact:  journey.Severity(j.Impact),
			Timeout: timeout,
		}
		for _, s := range j.Steps {
			st, err := buildStep(s)
			if err != nil {
				return nil, fmt.Errorf("journey %s: %w", j.ID, err)
			}
			spec.Steps = append(spec.Steps, st)
		}
		for _, v := range j.Validators {
			val, err := buildValidator(v)
			if err != nil {
				return nil, fmt.Errorf("journey %s: %w", j.ID, err)
			}
			spec.Validators = append(spec.Validators, val)
		}
		reg.Attempts = append(reg.Attempts, spec)
	}

	for _, f := range cfg.Vigil.Flows {
		timeout, err := parseDuration(f.Timeout)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", f.ID, err)
		}
		spec := journey.FlowSpec{ID: f.ID, Name: f.Name, Timeout: timeout}
		for _, s := range f.Steps {
			st, err := buildStep(s)
			if err != nil {
				return nil, fmt.Errorf("flow %s: %w", f.ID, err)
			}
			spec.Steps = append(spec.Steps, st)
		}
		reg.Flows = append(reg.Flows, spec)
	}

	return reg, nil
}

// StepTimeout returns the parsed default step timeout.
func (c *Config) StepTimeout() time.Duration {
	d, err := time.ParseDuration(c.Vigil.Defaults.StepTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

func buildStep(s Step) (journey.Step, error) {
	timeout, err := parseDuration(s.Timeout)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", s.ID, err)
	}

	switch s.Type {
	case "navigate":
		return journey.NavigateStep{ID: s.ID, URL: s.URL, Timeout: timeout}, nil
	case "click":
		return journey.ClickStep{ID: s.ID, Selectors: s.Selectors, Timeout: timeout, Optional: s.Optional}, nil
	case "type":
		return journey.TypeStep{ID: s.ID, Selectors: s.Selectors, Value: s.Value, Timeout: timeout, Optional: s.Optional}, nil
	case "wait_for":
		return journey.WaitForStep{ID: s.ID, Selectors: s.Selectors, Timeout: timeout, Optional: s.Optional}, nil
	case "wait":
		d, err := parseDuration(s.Duration)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.ID, err)
		}
		return journey.WaitStep{ID: s.ID, Duration: d}, nil
	default:
		return nil, fmt.Errorf("step %s: unrecognized type %q", s.ID, s.Type)
	}
}

func buildValidator(v Validator) (journey.Validator, error) {
	switch v.Type {
	case "element_visible":
		return journey.ElementVisibleCheck{ID: v.ID, Selector: v.Selector, WarnOnly: v.WarnOnly}, nil
	case "element_not_visible":
		return journey.ElementVisibleCheck{ID: v.ID, Selector: v.Selector, WantAbsent: true, WarnOnly: v.WarnOnly}, nil
	case "page_contains_any_text":
		return journey.PageTextCheck{ID: v.ID, AnyOf: v.AnyOf, WarnOnly: v.WarnOnly}, nil
	case "html_lang_attribute":
		return journey.HTMLLangCheck{ID: v.ID, Want: v.Want, WarnOnly: v.WarnOnly}, nil
	case "url_includes":
		return journey.URLCheck{ID: v.ID, Includes: v.Includes, WarnOnly: v.WarnOnly}, nil
	case "url_matches":
		return journey.URLCheck{ID: v.ID, Pattern: v.Pattern, WarnOnly: v.WarnOnly}, nil
	case "console_clean":
		return journey.ConsoleCleanCheck{ID: v.ID, WarnOnly: v.WarnOnly}, nil
	default:
		return nil, fmt.Errorf("validator %s: unrecognized type %q", v.ID, v.Type)
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
