package config

import (
	"github.com/lucasnoah/vigil/internal/policy"
	"github.com/lucasnoah/vigil/internal/step"
)

// Config is the top-level configuration structure parsed from vigil YAML.
type Config struct {
	Vigil Vigil `yaml:"vigil"`
}

// Vigil defines one monitored target: its journeys, flows, thresholds, and
// enforcement policy.
type Vigil struct {
	Target      string          `yaml:"target"`
	URL         string          `yaml:"url"`
	Defaults    Defaults        `yaml:"defaults"`
	Concurrency Concurrency     `yaml:"concurrency"`
	Friction    step.Thresholds `yaml:"friction"`
	Journeys    []Journey       `yaml:"journeys"`
	Flows       []Flow          `yaml:"flows"`
	Policy      *PolicySection  `yaml:"policy"`
}

// Defaults holds timeout values applied to journeys and steps that don't
// specify their own. Durations are strings in time.ParseDuration syntax.
type Defaults struct {
	StepTimeout    string `yaml:"step_timeout"`
	AttemptTimeout string `yaml:"attempt_timeout"`
}

// Concurrency bounds parallel attempt execution.
type Concurrency struct {
	Workers  int  `yaml:"workers"`
	FailFast bool `yaml:"fail_fast"`
}

// Journey declares one scripted user journey.
type Journey struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	Impact     string      `yaml:"impact"`
	Timeout    string      `yaml:"timeout"`
	Steps      []Step      `yaml:"steps"`
	Validators []Validator `yaml:"validators"`
}

// Flow declares one curated fixed-step flow. Flow steps carry exactly one
// selector and get no fallback tuning.
type Flow struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Timeout string `yaml:"timeout"`
	Steps   []Step `yaml:"steps"`
}

// Step is one scripted interaction. Type selects the step kind; the other
// fields apply per kind.
type Step struct {
	ID        string   `yaml:"id"`
	Type      string   `yaml:"type"` // navigate, click, type, wait_for, wait
	URL       string   `yaml:"url"`
	Selectors []string `yaml:"selectors"`
	Value     string   `yaml:"value"`
	Duration  string   `yaml:"duration"`
	Timeout   string   `yaml:"timeout"`
	Optional  bool     `yaml:"optional"`
}

// Validator is one declarative post-condition check.
type Validator struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"`
	Selector string   `yaml:"selector"`
	AnyOf    []string `yaml:"any_of"`
	Want     string   `yaml:"want"`
	Includes string   `yaml:"includes"`
	Pattern  string   `yaml:"pattern"`
	WarnOnly bool     `yaml:"warn_only"`
}

// PolicySection wraps the policy definition so an omitted max_warnings means
// "no cap" instead of zero.
type PolicySection struct {
	policy.Definition `yaml:",inline"`
}

// UnmarshalYAML applies the no-cap default before decoding, so only an
// explicit max_warnings: 0 means zero warnings allowed.
func (p *PolicySection) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p.Definition.MaxWarnings = -1
	return unmarshal(&p.Definition)
}
