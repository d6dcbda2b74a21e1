package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Built-in variable names supplied by the invoking environment.
const (
	VarProjectID     = "PROJECT_ID"
	VarProjectNumber = "PROJECT_NUMBER"
	VarLocation      = "LOCATION"
	VarBuildID       = "BUILD_ID"
	VarCommitSHA     = "COMMIT_SHA"
	VarShortSHA      = "SHORT_SHA"
	VarRevisionID    = "REVISION_ID"
	VarRepoName      = "REPO_NAME"
	VarBranchName    = "BRANCH_NAME"
	VarTagName       = "TAG_NAME"
	VarTriggerID     = "TRIGGER_ID"
	VarTriggerName   = "TRIGGER_NAME"
)

const shortSHALen = 7

// BuildEnv carries the built-in values of one invocation.
type BuildEnv struct {
	ProjectID     string `json:"project_id,omitempty"`
	ProjectNumber string `json:"project_number,omitempty"`
	Location      string `json:"location,omitempty"`
	BuildID       string `json:"build_id,omitempty"`
	CommitSHA     string `json:"commit_sha,omitempty"`
	RepoName      string `json:"repo_name,omitempty"`
	BranchName    string `json:"branch_name,omitempty"`
	TagName       string `json:"tag_name,omitempty"`
	TriggerID     string `json:"trigger_id,omitempty"`
	TriggerName   string `json:"trigger_name,omitempty"`
}

// Builtins returns the reserved variables that have a value.
// BUILD_ID is always present; one is generated when the environment has none.
func (e BuildEnv) Builtins() map[string]string {
	if e.BuildID == "" {
		e.BuildID = uuid.NewString()
	}
	vars := map[string]string{VarBuildID: e.BuildID}
	set := func(name, value string) {
		if value != "" {
			vars[name] = value
		}
	}
	set(VarProjectID, e.ProjectID)
	set(VarProjectNumber, e.ProjectNumber)
	set(VarLocation, e.Location)
	set(VarCommitSHA, e.CommitSHA)
	set(VarRevisionID, e.CommitSHA)
	set(VarRepoName, e.RepoName)
	set(VarBranchName, e.BranchName)
	set(VarTagName, e.TagName)
	set(VarTriggerID, e.TriggerID)
	set(VarTriggerName, e.TriggerName)
	if sha := e.CommitSHA; sha != "" {
		if len(sha) > shortSHALen {
			sha = sha[:shortSHALen]
		}
		vars[VarShortSHA] = sha
	}
	return vars
}

// IsBuiltin reports whether name is a reserved variable.
func IsBuiltin(name string) bool {
	switch name {
	case VarProjectID, VarProjectNumber, VarLocation, VarBuildID, VarCommitSHA, VarShortSHA,
		VarRevisionID, VarRepoName, VarBranchName, VarTagName, VarTriggerID, VarTriggerName:
		return true
	}
	return false
}

// Substitutions is the read-only variable table of a build.
type Substitutions struct {
	vars map[string]string
}

// NewSubstitutions copies vars into a table.
func NewSubstitutions(vars map[string]string) Substitutions {
	m := make(map[string]string, len(vars))
	for k, v := range vars {
		m[k] = v
	}
	return Substitutions{vars: m}
}

// NewTable builds the table for a build: document defaults, then overrides,
// then built-ins. Built-ins always win.
func NewTable(build *Build, env BuildEnv, overrides map[string]string) (Substitutions, error) {
	user := make(map[string]string, len(build.Substitutions)+len(overrides))
	for k, v := range build.Substitutions {
		user[k] = v
	}
	for k, v := range overrides {
		if !validName(k) {
			return Substitutions{}, &ParseError{Field: "substitutions", Err: fmt.Errorf("invalid variable name %q", k)}
		}
		user[k] = v
	}
	builtins := env.Builtins()

	if build.Options.DynamicSubstitutions {
		resolved, err := resolveDynamic(user, builtins, build.Options.Loose())
		if err != nil {
			return Substitutions{}, err
		}
		user = resolved
	}

	for k, v := range builtins {
		user[k] = v
	}
	return Substitutions{vars: user}, nil
}

// Lookup returns the value of name.
func (s Substitutions) Lookup(name string) (string, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Map returns a copy of the table.
func (s Substitutions) Map() map[string]string {
	m := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		m[k] = v
	}
	return m
}

// Expand replaces $NAME and ${NAME} tokens in template. "$$" yields "$".
// In loose mode an unknown variable is left exactly as written; otherwise
// it is an *UnresolvedVariableError naming field.
func (s Substitutions) Expand(template string, loose bool, field string) (string, error) {
	return expand(template, func(name string) (string, bool, error) {
		v, ok := s.vars[name]
		return v, ok, nil
	}, loose, field)
}

type lookupFunc func(name string) (string, bool, error)

func expand(template string, lookup lookupFunc, loose bool, field string) (string, error) {
	if !strings.Contains(template, "$") {
		return template, nil
	}

	var b strings.Builder
	b.Grow(len(template))

	resolve := func(name, token string) error {
		v, ok, err := lookup(name)
		if err != nil {
			return err
		}
		switch {
		case ok:
			b.WriteString(v)
		case loose:
			b.WriteString(token)
		default:
			return &UnresolvedVariableError{Variable: name, Field: field}
		}
		return nil
	}

	for i := 0; i < len(template); {
		c := template[i]
		if c != '$' || i+1 == len(template) {
			b.WriteByte(c)
			i++
			continue
		}

		next := template[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i += 2
		case next == '{':
			end := strings.IndexByte(template[i+2:], '}')
			if end < 0 {
				return "", &SubstitutionSyntaxError{Template: template, Offset: i}
			}
			name := template[i+2 : i+2+end]
			if !validName(name) {
				return "", &SubstitutionSyntaxError{Template: template, Offset: i}
			}
			if err := resolve(name, template[i:i+3+end]); err != nil {
				return "", err
			}
			i += 3 + end
		case isNameStart(next):
			j := i + 1
			for j < len(template) && isNameChar(template[j]) {
				j++
			}
			if err := resolve(template[i+1:j], template[i:j]); err != nil {
				return "", err
			}
			i = j
		default:
			b.WriteByte('$')
			i++
		}
	}
	return b.String(), nil
}

// resolveDynamic expands user values that reference other variables.
func resolveDynamic(user, builtins map[string]string, loose bool) (map[string]string, error) {
	resolved := make(map[string]string, len(user))
	visiting := make(map[string]bool)

	var lookup lookupFunc
	lookup = func(name string) (string, bool, error) {
		if v, ok := builtins[name]; ok {
			return v, true, nil
		}
		if v, ok := resolved[name]; ok {
			return v, true, nil
		}
		raw, ok := user[name]
		if !ok {
			return "", false, nil
		}
		if visiting[name] {
			return "", false, &ParseError{Field: "substitutions." + name, Err: ErrCycle}
		}
		visiting[name] = true
		v, err := expand(raw, lookup, loose, "substitutions."+name)
		delete(visiting, name)
		if err != nil {
			return "", false, err
		}
		resolved[name] = v
		return v, true, nil
	}

	names := make([]string, 0, len(user))
	for k := range user {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, _, err := lookup(name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func validName(name string) bool {
	if name == "" || !isNameStart(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isNameChar(name[i]) {
			return false
		}
	}
	return true
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
