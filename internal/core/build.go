package core

import (
	"strconv"
	"strings"
	"time"
)

// DefaultBuildTimeout applies when the document does not set one.
const DefaultBuildTimeout = 10 * time.Minute

// Substitution modes
const (
	SubstitutionMustMatch  = "MUST_MATCH"
	SubstitutionAllowLoose = "ALLOW_LOOSE"
)

// Logging modes
const (
	LoggingLegacy           = "LEGACY"
	LoggingCloudLoggingOnly = "CLOUD_LOGGING_ONLY"
	LoggingNone             = "NONE"
)

// Build is the parsed build configuration document.
// Steps run sequentially (step1 --> step2 --> step3).
type Build struct {
	Steps         []Step            `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Images        []string          `yaml:"images,omitempty" json:"images,omitempty" validate:"dive,required"`
	Options       Options           `yaml:"options,omitempty" json:"options,omitempty"`
	Substitutions map[string]string `yaml:"substitutions,omitempty" json:"substitutions,omitempty" validate:"dive,keys,varname,endkeys"`
	Tags          []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Timeout       string            `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`
}

// Step is a single unit of work, e.g. build, push or deploy.
type Step struct {
	// Name is the builder, e.g. "gcr.io/k8s-skaffold/pack".
	Name       string   `yaml:"name" json:"name" validate:"required"`
	ID         string   `yaml:"id,omitempty" json:"id,omitempty"`
	Entrypoint string   `yaml:"entrypoint,omitempty" json:"entrypoint,omitempty"`
	Args       []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env        []string `yaml:"env,omitempty" json:"env,omitempty" validate:"dive,envpair"`
	Dir        string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	Timeout    string   `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`
}

// Options are the named toggles of a build.
type Options struct {
	SubstitutionOption   string `yaml:"substitutionOption,omitempty" json:"substitutionOption,omitempty" validate:"omitempty,oneof=MUST_MATCH ALLOW_LOOSE"`
	Logging              string `yaml:"logging,omitempty" json:"logging,omitempty" validate:"omitempty,oneof=LEGACY CLOUD_LOGGING_ONLY NONE"`
	DynamicSubstitutions bool   `yaml:"dynamicSubstitutions,omitempty" json:"dynamicSubstitutions,omitempty"`
}

// Loose reports whether unresolved variables pass through literally.
func (o Options) Loose() bool {
	return o.SubstitutionOption == SubstitutionAllowLoose
}

// StoreLogs reports whether step output should be persisted.
func (o Options) StoreLogs() bool {
	return o.Logging != LoggingNone
}

// Ref identifies a step in logs, failures and the ledger: its id, or its position.
func (s Step) Ref(index int) string {
	if s.ID != "" {
		return s.ID
	}
	return "step-" + strconv.Itoa(index)
}

// Command returns the program a process executor should start for this step.
// Without an entrypoint it is the last path element of the builder name,
// with any tag or digest dropped ("gcr.io/cloud-builders/docker:latest" -> "docker").
func (s Step) Command() string {
	if s.Entrypoint != "" {
		return s.Entrypoint
	}
	name := s.Name
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}

// StepTimeout returns the parsed step timeout, or zero when unset.
func (s Step) StepTimeout() time.Duration {
	d, _ := time.ParseDuration(s.Timeout)
	return d
}

// BuildTimeout returns the parsed build timeout or DefaultBuildTimeout.
func (b *Build) BuildTimeout() time.Duration {
	if d, err := time.ParseDuration(b.Timeout); err == nil && d > 0 {
		return d
	}
	return DefaultBuildTimeout
}
