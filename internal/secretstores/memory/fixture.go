package memory

import (
	"fmt"
	"io"
	"os"

	"github.com/systmms/rotator/pkg/rotation"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document used to seed a Store.
//
//	secrets:
//	  - name: app/db
//	    rotationEnabled: true
//	    versions:
//	      - id: v1
//	        stages: [AWSCURRENT]
//	        value:
//	          engine: postgres
//	          host: localhost
//	          username: app
//	          password: initial
type Fixture struct {
	Secrets []FixtureSecret `yaml:"secrets"`
}

// FixtureSecret describes one secret in a fixture.
type FixtureSecret struct {
	Name            string           `yaml:"name"`
	RotationEnabled bool             `yaml:"rotationEnabled"`
	Versions        []FixtureVersion `yaml:"versions"`
}

// FixtureVersion describes one version of a fixture secret. A version
// without a value is a pending placeholder.
type FixtureVersion struct {
	ID     string                 `yaml:"id"`
	Stages []rotation.Stage       `yaml:"stages"`
	Value  map[string]interface{} `yaml:"value,omitempty"`
}

// LoadFixture decodes a fixture and returns a store seeded with it.
func LoadFixture(r io.Reader) (*Store, error) {
	var fixture Fixture
	if err := yaml.NewDecoder(r).Decode(&fixture); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	return FromFixture(fixture)
}

// LoadFixtureFile reads a fixture from path.
func LoadFixtureFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadFixture(f)
}

// FromFixture builds a store from an already decoded fixture.
func FromFixture(fixture Fixture) (*Store, error) {
	store := New()
	for _, sec := range fixture.Secrets {
		if sec.Name == "" {
			return nil, fmt.Errorf("fixture secret without a name")
		}
		if len(sec.Versions) == 0 {
			return nil, fmt.Errorf("fixture secret %s has no versions", sec.Name)
		}
		for _, v := range sec.Versions {
			if v.ID == "" {
				return nil, fmt.Errorf("fixture secret %s has a version without an id", sec.Name)
			}
			var value rotation.SecretValue
			if v.Value != nil {
				value = rotation.SecretValue(v.Value)
			}
			if err := store.AddVersion(sec.Name, v.ID, value, v.Stages...); err != nil {
				return nil, fmt.Errorf("fixture secret %s: %w", sec.Name, err)
			}
		}
		if err := store.SetRotationEnabled(sec.Name, sec.RotationEnabled); err != nil {
			return nil, err
		}
	}
	return store, nil
}
