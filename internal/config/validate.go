package config

import (
	"fmt"
	"regexp"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedStepTypes is the closed set of step kinds.
var recognizedStepTypes = map[string]bool{
	"navigate": true,
	"click":    true,
	"type":     true,
	"wait_for": true,
	"wait":     true,
}

// recognizedValidatorTypes is the closed set of validator kinds.
var recognizedValidatorTypes = map[string]bool{
	"element_visible":        true,
	"element_not_visible":    true,
	"page_contains_any_text": true,
	"html_lang_attribute":    true,
	"url_includes":           true,
	"url_matches":            true,
	"console_clean":          true,
}

var recognizedImpacts = map[string]bool{
	"": true, "critical": true, "high": true, "medium": true, "low": true,
}

var recognizedEvidence = map[string]bool{
	"screenshots": true, "network": true, "console": true, "manifest": true,
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	v := cfg.Vigil

	if v.Target == "" {
		errs = append(errs, ValidationError{Field: "vigil.target", Message: "is required"})
	}
	if v.URL == "" {
		errs = append(errs, ValidationError{Field: "vigil.url", Message: "is required"})
	}
	if len(v.Journeys) == 0 && len(v.Flows) == 0 {
		errs = append(errs, ValidationError{Field: "vigil.journeys", Message: "at least one journey or flow is required"})
	}

	validateDuration(&errs, "vigil.defaults.step_timeout", v.Defaults.StepTimeout)
	validateDuration(&errs, "vigil.defaults.attempt_timeout", v.Defaults.AttemptTimeout)

	journeyIDs := make(map[string]bool)
	for i, j := range v.Journeys {
		prefix := fmt.Sprintf("vigil.journeys[%d]", i)
		if j.ID == "" {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: "is required"})
			continue
		}
		if journeyIDs[j.ID] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate journey ID %q", j.ID),
			})
		}
		journeyIDs[j.ID] = true

		if !recognizedImpacts[j.Impact] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".impact",
				Message: fmt.Sprintf("unrecognized impact %q", j.Impact),
			})
		}
		validateDuration(&errs, prefix+".timeout", j.Timeout)

		if len(j.Steps) == 0 {
			errs = append(errs, ValidationError{Field: prefix + ".steps", Message: "at least one step is required"})
		}
		validateSteps(&errs, prefix, j.Steps, false)

		for vi, val := range j.Validators {
			validateValidator(&errs, fmt.Sprintf("%s.validators[%d]", prefix, vi), val)
		}
	}

	flowIDs := make(map[string]bool)
	for i, f := range v.Flows {
		prefix := fmt.Sprintf("vigil.flows[%d]", i)
		if f.ID == "" {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: "is required"})
			continue
		}
		if flowIDs[f.ID] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate flow ID %q", f.ID),
			})
		}
		flowIDs[f.ID] = true
		validateDuration(&errs, prefix+".timeout", f.Timeout)

		if len(f.Steps) == 0 {
			errs = append(errs, ValidationError{Field: prefix + ".steps", Message: "at least one step is required"})
		}
		validateSteps(&errs, prefix, f.Steps, true)
	}

	if v.Policy != nil {
		validatePolicy(&errs, v.Policy)
	}

	return errs
}

func validateSteps(errs *[]ValidationError, prefix string, steps []Step, flow bool) {
	stepIDs := make(map[string]bool)
	for i, s := range steps {
		field := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if s.ID == "" {
			*errs = append(*errs, ValidationError{Field: field + ".id", Message: "is required"})
		} else if stepIDs[s.ID] {
			*errs = append(*errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate step ID %q", s.ID),
			})
		}
		stepIDs[s.ID] = true

		if !recognizedStepTypes[s.Type] {
			*errs = append(*errs, ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unrecognized step type %q", s.Type),
			})
			continue
		}
		validateDuration(errs, field+".timeout", s.Timeout)

		switch s.Type {
		case "navigate":
			if s.URL == "" {
				*errs = append(*errs, ValidationError{Field: field + ".url", Message: "navigate step requires a url"})
			}
		case "click", "type", "wait_for":
			if len(s.Selectors) == 0 {
				*errs = append(*errs, ValidationError{Field: field + ".selectors", Message: "at least one selector is required"})
			}
			if flow && len(s.Selectors) > 1 {
				*errs = append(*errs, ValidationError{Field: field + ".selectors", Message: "flow steps carry exactly one selector"})
			}
			if s.Type == "type" && s.Value == "" {
				*errs = append(*errs, ValidationError{Field: field + ".value", Message: "type step requires a value"})
			}
		case "wait":
			if s.Duration == "" {
				*errs = append(*errs, ValidationError{Field: field + ".duration", Message: "wait step requires a duration"})
			} else {
				validateDuration(errs, field+".duration", s.Duration)
			}
		}
	}
}

func validateValidator(errs *[]ValidationError, field string, v Validator) {
	if v.ID == "" {
		*errs = append(*errs, ValidationError{Field: field + ".id", Message: "is required"})
	}
	if !recognizedValidatorTypes[v.Type] {
		*errs = append(*errs, ValidationError{
			Field:   field + ".type",
			Message: fmt.Sprintf("unrecognized validator type %q", v.Type),
		})
		return
	}

	switch v.Type {
	case "element_visible", "element_not_visible":
		if v.Selector == "" {
			*errs = append(*errs, ValidationError{Field: field + ".selector", Message: "is required"})
		}
	case "page_contains_any_text":
		if len(v.AnyOf) == 0 {
			*errs = append(*errs, ValidationError{Field: field + ".any_of", Message: "at least one fragment is required"})
		}
	case "url_includes":
		if v.Includes == "" {
			*errs = append(*errs, ValidationError{Field: field + ".includes", Message: "is required"})
		}
	case "url_matches":
		if v.Pattern == "" {
			*errs = append(*errs, ValidationError{Field: field + ".pattern", Message: "is required"})
		} else if _, err := regexp.Compile(v.Pattern); err != nil {
			*errs = append(*errs, ValidationError{
				Field:   field + ".pattern",
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}
}

func validatePolicy(errs *[]ValidationError, p *PolicySection) {
	if p.MinCoverage < 0 || p.MinCoverage > 1 {
		*errs = append(*errs, ValidationError{Field: "vigil.policy.min_coverage", Message: "must be in [0,1]"})
	}
	if p.MinEvidenceCompleteness < 0 || p.MinEvidenceCompleteness > 1 {
		*errs = append(*errs, ValidationError{Field: "vigil.policy.min_evidence_completeness", Message: "must be in [0,1]"})
	}
	for _, kind := range p.RequiredEvidence {
		if !recognizedEvidence[kind] {
			*errs = append(*errs, ValidationError{
				Field:   "vigil.policy.required_evidence",
				Message: fmt.Sprintf("unrecognized evidence kind %q", kind),
			})
		}
	}
	for i, r := range p.Rules {
		if r.Code == "" || r.Expr == "" {
			*errs = append(*errs, ValidationError{
				Field:   fmt.Sprintf("vigil.policy.rules[%d]", i),
				Message: "rules require both code and expr",
			})
		}
	}
}

func validateDuration(errs *[]ValidationError, field, value string) {
	if value == "" {
		return
	}
	if _, err := time.ParseDuration(value); err != nil {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", value),
		})
	}
}
