// Package memory provides an in-process rotation.SecretStore with the stage
// label semantics of AWS Secrets Manager. It backs local simulations and
// tests.
package memory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/systmms/rotator/pkg/rotation"
)

const arnPrefix = "arn:aws:secretsmanager:us-east-1:123456789012:secret:"

var (
	// ErrStageMismatch is returned by UpdateVersionStage when removeFrom does
	// not match the version currently holding the stage.
	ErrStageMismatch = errors.New("stage is not attached to the given version")

	// ErrVersionExists is returned by PutSecretValue when the token already
	// names a version with a different value.
	ErrVersionExists = errors.New("version already exists with a different value")
)

// Store is a mutex-guarded map of secrets.
type Store struct {
	mu      sync.Mutex
	secrets map[string]*secret
	faults  map[string][]error
	now     func() time.Time
}

type secret struct {
	name            string
	rotationEnabled bool
	versions        map[string]*version
}

type version struct {
	value    string
	hasValue bool
	stages   map[rotation.Stage]bool
	created  time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		secrets: make(map[string]*secret),
		faults:  make(map[string][]error),
		now:     time.Now,
	}
}

// ARN returns the ARN the store reports for a secret name.
func ARN(name string) string {
	return arnPrefix + name
}

// AddSecret creates a secret whose first version holds value as AWSCURRENT and
// returns that version's id.
func (s *Store) AddSecret(name string, rotationEnabled bool, value rotation.SecretValue) (string, error) {
	versionID := uuid.NewString()
	if err := s.AddVersion(name, versionID, value, rotation.StageCurrent); err != nil {
		return "", err
	}
	return versionID, s.SetRotationEnabled(name, rotationEnabled)
}

// AddVersion adds a version with the given stages, creating the secret if
// needed. A nil value adds a version without a value, like the AWSPENDING
// placeholder RotateSecret creates.
func (s *Store) AddVersion(name, versionID string, value rotation.SecretValue, stages ...rotation.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.secrets[name]
	if !ok {
		sec = &secret{name: name, versions: make(map[string]*version)}
		s.secrets[name] = sec
	}
	if _, exists := sec.versions[versionID]; exists {
		return fmt.Errorf("%w: %s", ErrVersionExists, versionID)
	}

	v := &version{stages: make(map[rotation.Stage]bool), created: s.now()}
	if value != nil {
		encoded, err := value.Encode()
		if err != nil {
			return err
		}
		v.value = encoded
		v.hasValue = true
	}
	sec.versions[versionID] = v
	for _, stage := range stages {
		sec.attach(versionID, stage)
	}
	return nil
}

// SetRotationEnabled toggles the rotation flag of an existing secret.
func (s *Store) SetRotationEnabled(secretID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, err := s.lookup(secretID)
	if err != nil {
		return err
	}
	sec.rotationEnabled = enabled
	return nil
}

// StartRotation does what a RotateSecret call does before it invokes the
// rotation function: it creates an empty version named token and moves
// AWSPENDING onto it. A token that already exists is left alone.
func (s *Store) StartRotation(_ context.Context, secretID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, err := s.lookup(secretID)
	if err != nil {
		return err
	}
	if !sec.rotationEnabled {
		return fmt.Errorf("%w: %s", rotation.ErrRotationDisabled, secretID)
	}
	if _, exists := sec.versions[token]; exists {
		return nil
	}
	sec.versions[token] = &version{stages: make(map[rotation.Stage]bool), created: s.now()}
	sec.attach(token, rotation.StagePending)
	return nil
}

// FailNext makes the next call to op ("DescribeSecret", "GetSecretValue",
// "PutSecretValue", "UpdateVersionStage", "GenerateRandomValue") return err.
// Faults queue up in the order they are added.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *Store) fault(op string) error {
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

// DescribeSecret implements rotation.SecretStore. Versions without any stage
// are deprecated and not reported, as in Secrets Manager.
func (s *Store) DescribeSecret(_ context.Context, secretID string) (*rotation.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("DescribeSecret"); err != nil {
		return nil, err
	}

	sec, err := s.lookup(secretID)
	if err != nil {
		return nil, err
	}

	meta := &rotation.Metadata{
		ARN:             ARN(sec.name),
		Name:            sec.name,
		RotationEnabled: sec.rotationEnabled,
		Versions:        make(map[string][]rotation.Stage),
	}
	for id, v := range sec.versions {
		if stages := v.sortedStages(); len(stages) > 0 {
			meta.Versions[id] = stages
		}
	}
	return meta, nil
}

// GetSecretValue implements rotation.SecretStore.
func (s *Store) GetSecretValue(_ context.Context, secretID, versionID string, stage rotation.Stage) (rotation.SecretValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("GetSecretValue"); err != nil {
		return nil, err
	}

	sec, err := s.lookup(secretID)
	if err != nil {
		return nil, err
	}

	if versionID == "" {
		if stage == "" {
			stage = rotation.StageCurrent
		}
		versionID = sec.holder(stage)
		if versionID == "" {
			return nil, fmt.Errorf("%w: no version of %s has stage %s", rotation.ErrValueNotFound, secretID, stage)
		}
	}

	v, ok := sec.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: version %s of %s", rotation.ErrValueNotFound, versionID, secretID)
	}
	if stage != "" && !v.stages[stage] {
		return nil, fmt.Errorf("%w: version %s of %s does not have stage %s", rotation.ErrValueNotFound, versionID, secretID, stage)
	}
	if !v.hasValue {
		return nil, fmt.Errorf("%w: version %s of %s has no value", rotation.ErrValueNotFound, versionID, secretID)
	}
	return rotation.ParseSecretValue(v.value)
}

// PutSecretValue implements rotation.SecretStore. Repeating the call with the
// same token and value succeeds; a different value for an existing token fails.
func (s *Store) PutSecretValue(_ context.Context, secretID, token string, value rotation.SecretValue, stages []rotation.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("PutSecretValue"); err != nil {
		return err
	}

	sec, err := s.lookup(secretID)
	if err != nil {
		return err
	}

	encoded, err := value.Encode()
	if err != nil {
		return err
	}

	v, exists := sec.versions[token]
	switch {
	case !exists:
		v = &version{stages: make(map[rotation.Stage]bool), created: s.now()}
		sec.versions[token] = v
	case v.hasValue && v.value != encoded:
		return fmt.Errorf("%w: %s", ErrVersionExists, token)
	}
	v.value = encoded
	v.hasValue = true

	if len(stages) == 0 {
		stages = []rotation.Stage{rotation.StageCurrent}
	}
	for _, stage := range stages {
		sec.attach(token, stage)
	}
	return nil
}

// UpdateVersionStage implements rotation.SecretStore. The move is atomic
// under the store lock. Moving AWSCURRENT labels the old version AWSPREVIOUS.
func (s *Store) UpdateVersionStage(_ context.Context, secretID string, stage rotation.Stage, moveTo, removeFrom string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("UpdateVersionStage"); err != nil {
		return err
	}

	sec, err := s.lookup(secretID)
	if err != nil {
		return err
	}

	if moveTo != "" {
		if _, ok := sec.versions[moveTo]; !ok {
			return fmt.Errorf("%w: version %s of %s", rotation.ErrValueNotFound, moveTo, secretID)
		}
	}

	holder := sec.holder(stage)
	if holder != "" && holder != moveTo && holder != removeFrom {
		return fmt.Errorf("%w: %s is attached to %s, not %q", ErrStageMismatch, stage, holder, removeFrom)
	}
	if removeFrom != "" && holder != removeFrom {
		return fmt.Errorf("%w: %s is not attached to %s", ErrStageMismatch, stage, removeFrom)
	}

	if removeFrom != "" {
		delete(sec.versions[removeFrom].stages, stage)
	}
	if moveTo != "" {
		sec.attach(moveTo, stage)
	}
	if stage == rotation.StageCurrent && removeFrom != "" && removeFrom != moveTo {
		sec.attach(removeFrom, rotation.StagePrevious)
	}
	return nil
}

// GenerateRandomValue implements rotation.SecretStore using crypto/rand over
// printable ASCII minus the excluded characters.
func (s *Store) GenerateRandomValue(_ context.Context, policy rotation.PasswordPolicy) (string, error) {
	s.mu.Lock()
	err := s.fault("GenerateRandomValue")
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	return RandomPassword(policy)
}

// RandomPassword returns a password of policy.Length characters drawn
// uniformly from printable ASCII, skipping excluded characters.
func RandomPassword(policy rotation.PasswordPolicy) (string, error) {
	length := policy.Length
	if length <= 0 {
		length = rotation.DefaultPasswordLength
	}

	var charset []byte
	for c := byte('!'); c <= '~'; c++ {
		if !strings.ContainsRune(policy.ExcludeCharacters, rune(c)) {
			charset = append(charset, c)
		}
	}
	if len(charset) == 0 {
		return "", fmt.Errorf("password policy excludes every printable character")
	}

	limit := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}

func (s *Store) lookup(secretID string) (*secret, error) {
	name := strings.TrimPrefix(secretID, arnPrefix)
	sec, ok := s.secrets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rotation.ErrSecretNotFound, secretID)
	}
	return sec, nil
}

// attach puts stage on versionID and removes it from every other version.
// A version losing AWSCURRENT becomes AWSPREVIOUS.
func (sec *secret) attach(versionID string, stage rotation.Stage) {
	previous := ""
	if stage == rotation.StageCurrent {
		previous = sec.holder(rotation.StageCurrent)
	}
	for id, v := range sec.versions {
		if id != versionID {
			delete(v.stages, stage)
		}
	}
	sec.versions[versionID].stages[stage] = true
	if previous != "" && previous != versionID {
		sec.attach(previous, rotation.StagePrevious)
	}
}

func (sec *secret) holder(stage rotation.Stage) string {
	for id, v := range sec.versions {
		if v.stages[stage] {
			return id
		}
	}
	return ""
}

func (v *version) sortedStages() []rotation.Stage {
	stages := make([]rotation.Stage, 0, len(v.stages))
	for stage := range v.stages {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	return stages
}
