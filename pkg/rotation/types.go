package rotation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Stage is a version stage label attached to a secret version.
type Stage string

const (
	// StageCurrent marks the version consumers should use.
	StageCurrent Stage = "AWSCURRENT"

	// StagePending marks the version being prepared by an in-flight rotation.
	StagePending Stage = "AWSPENDING"

	// StagePrevious marks the version that was current before the last rotation.
	StagePrevious Stage = "AWSPREVIOUS"
)

// Step names one of the four rotation steps.
type Step int

const (
	stepUnknown Step = iota
	StepCreate
	StepSet
	StepTest
	StepFinish
)

var stepNames = map[Step]string{
	StepCreate: "createSecret",
	StepSet:    "setSecret",
	StepTest:   "testSecret",
	StepFinish: "finishSecret",
}

// Steps returns the four steps in protocol order.
func Steps() []Step {
	return []Step{StepCreate, StepSet, StepTest, StepFinish}
}

// String returns the wire name of the step, e.g. "createSecret".
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// Valid reports whether s is one of the four protocol steps.
func (s Step) Valid() bool {
	_, ok := stepNames[s]
	return ok
}

// ParseStep converts a wire step name into a Step.
func ParseStep(name string) (Step, error) {
	for step, stepName := range stepNames {
		if stepName == name {
			return step, nil
		}
	}
	return stepUnknown, fmt.Errorf("%w: %q", ErrInvalidStep, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStep, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Step) UnmarshalText(text []byte) error {
	step, err := ParseStep(string(text))
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// Request is one (secret, token, step) event delivered by a trigger.
type Request struct {
	SecretID string
	Token    string
	Step     Step
}

// Metadata describes a secret as reported by the store.
type Metadata struct {
	ARN             string
	Name            string
	RotationEnabled bool

	// Versions maps each version id to the stages attached to it.
	Versions map[string][]Stage
}

// HasVersion reports whether the secret knows the given version id.
func (m *Metadata) HasVersion(versionID string) bool {
	_, ok := m.Versions[versionID]
	return ok
}

// StagesOf returns the stages attached to versionID.
func (m *Metadata) StagesOf(versionID string) []Stage {
	return m.Versions[versionID]
}

// HasStage reports whether versionID carries stage.
func (m *Metadata) HasStage(versionID string, stage Stage) bool {
	for _, s := range m.Versions[versionID] {
		if s == stage {
			return true
		}
	}
	return false
}

// VersionWithStage returns the id of the version holding stage, or "" when
// no version does. Version ids are searched in sorted order so the result is
// stable if the store ever reports the stage twice.
func (m *Metadata) VersionWithStage(stage Stage) string {
	for _, id := range sortedVersions(m) {
		if m.HasStage(id, stage) {
			return id
		}
	}
	return ""
}

func sortedVersions(m *Metadata) []string {
	ids := make([]string, 0, len(m.Versions))
	for id := range m.Versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PasswordPolicy controls how createSecret asks the store for a new password.
type PasswordPolicy struct {
	Length            int
	ExcludeCharacters string
}

const (
	// DefaultPasswordLength is the generated password length when none is configured.
	DefaultPasswordLength = 32

	// DefaultExcludeCharacters are characters unsafe in connection strings and SQL literals.
	DefaultExcludeCharacters = `/@"'\`
)

// DefaultPasswordPolicy returns the policy used when none is configured.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		Length:            DefaultPasswordLength,
		ExcludeCharacters: DefaultExcludeCharacters,
	}
}

func (p PasswordPolicy) withDefaults() PasswordPolicy {
	if p.Length <= 0 {
		p.Length = DefaultPasswordLength
	}
	return p
}

// SecretValue is the decoded JSON payload of a secret version. Only the
// username and password fields have meaning to the coordinator; every other
// field is carried through rotation untouched.
type SecretValue map[string]interface{}

const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldHost     = "host"
	FieldPort     = "port"
	FieldDBName   = "dbname"
	FieldEngine   = "engine"
)

// ParseSecretValue decodes a SecretString.
func ParseSecretValue(raw string) (SecretValue, error) {
	var value SecretValue
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("secret value is not a JSON object: %w", err)
	}
	if value == nil {
		return nil, fmt.Errorf("secret value is not a JSON object")
	}
	return value, nil
}

// Encode returns the SecretString form of the value.
func (v SecretValue) Encode() (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode secret value: %w", err)
	}
	return string(data), nil
}

// String returns a field as a string. Numbers are rendered without a
// fractional part when they are whole, matching how ports are usually stored.
func (v SecretValue) String(key string) string {
	switch val := v[key].(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Username returns the username field.
func (v SecretValue) Username() string {
	return v.String(FieldUsername)
}

// Password returns the password field.
func (v SecretValue) Password() string {
	return v.String(FieldPassword)
}

// Clone returns a shallow copy of the value.
func (v SecretValue) Clone() SecretValue {
	out := make(SecretValue, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// WithPassword returns a copy of the value with the password replaced.
func (v SecretValue) WithPassword(password string) SecretValue {
	out := v.Clone()
	out[FieldPassword] = password
	return out
}

// Fields returns the sorted field names, handy for logging what a value
// contains without logging the value itself.
func (v SecretValue) Fields() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatStages renders a stage list as "AWSCURRENT,AWSPREVIOUS".
func FormatStages(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
