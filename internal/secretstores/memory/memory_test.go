package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/internal/secretstores/memory"
	"github.com/systmms/rotator/pkg/rotation"
)

func seeded(t *testing.T) (*memory.Store, string) {
	t.Helper()
	store := memory.New()
	v1, err := store.AddSecret("app/db", true, rotation.SecretValue{
		"username": "app",
		"password": "initial",
		"host":     "db.internal",
	})
	require.NoError(t, err)
	return store, v1
}

func TestDescribeSecret(t *testing.T) {
	t.Parallel()

	store, v1 := seeded(t)
	ctx := context.Background()

	meta, err := store.DescribeSecret(ctx, "app/db")
	require.NoError(t, err)
	assert.True(t, meta.RotationEnabled)
	assert.Equal(t, memory.ARN("app/db"), meta.ARN)
	if diff := cmp.Diff(map[string][]rotation.Stage{v1: {rotation.StageCurrent}}, meta.Versions); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}

	// Lookups by ARN resolve to the same secret
	byARN, err := store.DescribeSecret(ctx, memory.ARN("app/db"))
	require.NoError(t, err)
	assert.Equal(t, meta.Versions, byARN.Versions)

	_, err = store.DescribeSecret(ctx, "missing")
	assert.ErrorIs(t, err, rotation.ErrSecretNotFound)
}

func TestStartRotationCreatesPendingPlaceholder(t *testing.T) {
	t.Parallel()

	store, v1 := seeded(t)
	ctx := context.Background()

	require.NoError(t, store.StartRotation(ctx, "app/db", "t2"))
	require.NoError(t, store.StartRotation(ctx, "app/db", "t2"), "starting twice is a no-op")

	meta, err := store.DescribeSecret(ctx, "app/db")
	require.NoError(t, err)
	assert.Equal(t, []rotation.Stage{rotation.StagePending}, meta.Versions["t2"])
	assert.Equal(t, []rotation.Stage{rotation.StageCurrent}, meta.Versions[v1])

	_, err = store.GetSecretValue(ctx, "app/db", "t2", rotation.StagePending)
	assert.ErrorIs(t, err, rotation.ErrValueNotFound, "placeholder has no value yet")
}

func TestStartRotationRequiresRotationEnabled(t *testing.T) {
	t.Parallel()

	store, _ := seeded(t)
	require.NoError(t, store.SetRotationEnabled("app/db", false))

	err := store.StartRotation(context.Background(), "app/db", "t2")
	assert.ErrorIs(t, err, rotation.ErrRotationDisabled)
}

func TestGetSecretValue(t *testing.T) {
	t.Parallel()

	store, v1 := seeded(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		versionID string
		stage     rotation.Stage
		wantErr   error
	}{
		{name: "by stage", stage: rotation.StageCurrent},
		{name: "default stage is current"},
		{name: "by version", versionID: v1},
		{name: "by version and stage", versionID: v1, stage: rotation.StageCurrent},
		{name: "version without stage", versionID: v1, stage: rotation.StagePending, wantErr: rotation.ErrValueNotFound},
		{name: "unknown version", versionID: "nope", wantErr: rotation.ErrValueNotFound},
		{name: "stage nobody holds", stage: rotation.StagePrevious, wantErr: rotation.ErrValueNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			value, err := store.GetSecretValue(ctx, "app/db", tt.versionID, tt.stage)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "initial", value.Password())
			assert.Equal(t, "db.internal", value.String("host"))
		})
	}
}

func TestPutSecretValueMovesStages(t *testing.T) {
	t.Parallel()

	store, v1 := seeded(t)
	ctx := context.Background()
	value := rotation.SecretValue{"username": "app", "password": "next"}

	require.NoError(t, store.PutSecretValue(ctx, "app/db", "t2", value, []rotation.Stage{rotation.StagePending}))
	require.NoError(t, store.PutSecretValue(ctx, "app/db", "t3", value, []rotation.Stage{rotation.StagePending}))

	meta, err := store.DescribeSecret(ctx, "app/db")
	require.NoError(t, err)
	assert.Equal(t, "t3", meta.VersionWithStage(rotation.StagePending))
	assert.Equal(t, v1, meta.VersionWithStage(rotation.StageCurrent))
	assert.False(t, meta.HasVersion("t2"), "a version left without stages is deprecated")
}

func TestPutSecretValueIdempotency(t *testing.T) {
	t.Parallel()

	store, _ := seeded(t)
	ctx := context.Background()
	value := rotation.SecretValue{"username": "app", "password": "next"}
	pending := []rotation.Stage{rotation.StagePending}

	require.NoError(t, store.PutSecretValue(ctx, "app/db", "t2", value, pending))
	require.NoError(t, store.PutSecretValue(ctx, "app/db", "t2", value, pending), "same token and value")

	err := store.PutSecretValue(ctx, "app/db", "t2", value.WithPassword("other"), pending)
	assert.ErrorIs(t, err, memory.ErrVersionExists)
}

func TestUpdateVersionStage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("moves current and marks previous", func(t *testing.T) {
		store, v1 := seeded(t)
		require.NoError(t, store.PutSecretValue(ctx, "app/db", "t2", rotation.SecretValue{"password": "x"}, []rotation.Stage{rotation.StagePending}))

		require.NoError(t, store.UpdateVersionStage(ctx, "app/db", rotation.StageCurrent, "t2", v1))

		meta, err := store.DescribeSecret(ctx, "app/db")
		require.NoError(t, err)
		want := map[string][]rotation.Stage{
			v1:   {rotation.StagePrevious},
			"t2": {rotation.StageCurrent, rotation.StagePending},
		}
		if diff := cmp.Diff(want, meta.Versions); diff != "" {
			t.Errorf("versions mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects wrong removeFrom", func(t *testing.T) {
		store, _ := seeded(t)
		require.NoError(t, store.PutSecretValue(ctx, "app/db", "t2", rotation.SecretValue{"password": "x"}, []rotation.Stage{rotation.StagePending}))

		err := store.UpdateVersionStage(ctx, "app/db", rotation.StageCurrent, "t2", "")
		assert.ErrorIs(t, err, memory.ErrStageMismatch)

		err = store.UpdateVersionStage(ctx, "app/db", rotation.StageCurrent, "t2", "t2")
		assert.ErrorIs(t, err, memory.ErrStageMismatch)
	})

	t.Run("adds when nobody holds the stage", func(t *testing.T) {
		store := memory.New()
		require.NoError(t, store.AddVersion("orphan", "t1", rotation.SecretValue{"password": "x"}, rotation.StagePending))

		require.NoError(t, store.UpdateVersionStage(ctx, "orphan", rotation.StageCurrent, "t1", ""))

		meta, err := store.DescribeSecret(ctx, "orphan")
		require.NoError(t, err)
		assert.Equal(t, "t1", meta.VersionWithStage(rotation.StageCurrent))
		assert.Empty(t, meta.VersionWithStage(rotation.StagePrevious))
	})

	t.Run("unknown target version", func(t *testing.T) {
		store, v1 := seeded(t)
		err := store.UpdateVersionStage(ctx, "app/db", rotation.StageCurrent, "ghost", v1)
		assert.ErrorIs(t, err, rotation.ErrValueNotFound)
	})
}

func TestFailNext(t *testing.T) {
	t.Parallel()

	store, _ := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	store.FailNext("DescribeSecret", boom)

	_, err := store.DescribeSecret(ctx, "app/db")
	assert.ErrorIs(t, err, boom)

	_, err = store.DescribeSecret(ctx, "app/db")
	assert.NoError(t, err, "faults fire once")
}

func TestRandomPassword(t *testing.T) {
	t.Parallel()

	policy := rotation.DefaultPasswordPolicy()
	for i := 0; i < 50; i++ {
		password, err := memory.RandomPassword(policy)
		require.NoError(t, err)
		assert.Len(t, password, rotation.DefaultPasswordLength)
		assert.False(t, strings.ContainsAny(password, policy.ExcludeCharacters), "password %q contains excluded characters", password)
	}

	short, err := memory.RandomPassword(rotation.PasswordPolicy{Length: 8})
	require.NoError(t, err)
	assert.Len(t, short, 8)

	var all strings.Builder
	for c := byte('!'); c <= '~'; c++ {
		all.WriteByte(c)
	}
	_, err = memory.RandomPassword(rotation.PasswordPolicy{Length: 8, ExcludeCharacters: all.String()})
	assert.Error(t, err)
}

func TestLoadFixture(t *testing.T) {
	t.Parallel()

	doc := `
secrets:
  - name: app/db
    rotationEnabled: true
    versions:
      - id: v1
        stages: [AWSCURRENT]
        value:
          engine: postgres
          host: localhost
          port: 5432
          username: app
          password: initial
      - id: v2
        stages: [AWSPENDING]
  - name: legacy
    rotationEnabled: false
    versions:
      - id: only
        stages: [AWSCURRENT]
        value:
          username: legacy
          password: pw
`
	store, err := memory.LoadFixture(strings.NewReader(doc))
	require.NoError(t, err)
	ctx := context.Background()

	meta, err := store.DescribeSecret(ctx, "app/db")
	require.NoError(t, err)
	assert.True(t, meta.RotationEnabled)
	assert.Equal(t, "v1", meta.VersionWithStage(rotation.StageCurrent))
	assert.Equal(t, "v2", meta.VersionWithStage(rotation.StagePending))

	value, err := store.GetSecretValue(ctx, "app/db", "v1", "")
	require.NoError(t, err)
	assert.Equal(t, "5432", value.String("port"))

	legacy, err := store.DescribeSecret(ctx, "legacy")
	require.NoError(t, err)
	assert.False(t, legacy.RotationEnabled)
}

func TestLoadFixtureErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "invalid yaml", doc: "secrets: [:"},
		{name: "missing name", doc: "secrets:\n  - versions:\n      - id: v1\n"},
		{name: "no versions", doc: "secrets:\n  - name: a\n"},
		{name: "missing version id", doc: "secrets:\n  - name: a\n    versions:\n      - stages: [AWSCURRENT]\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := memory.LoadFixture(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}
