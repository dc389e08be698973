package rotation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    Step
		wantErr bool
	}{
		{name: "createSecret", want: StepCreate},
		{name: "setSecret", want: StepSet},
		{name: "testSecret", want: StepTest},
		{name: "finishSecret", want: StepFinish},
		{name: "CreateSecret", wantErr: true},
		{name: "", wantErr: true},
		{name: "rollbackSecret", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseStep(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStep)
				assert.False(t, got.Valid())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.String())
		})
	}
}

func TestStepJSON(t *testing.T) {
	t.Parallel()

	var event struct {
		Step Step `json:"Step"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"Step":"testSecret"}`), &event))
	assert.Equal(t, StepTest, event.Step)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Step":"testSecret"}`, string(data))

	err = json.Unmarshal([]byte(`{"Step":"bogus"}`), &event)
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = json.Marshal(struct{ Step Step }{Step: Step(9)})
	assert.Error(t, err)
	assert.Equal(t, "Step(9)", Step(9).String())
}

func TestMetadataLookups(t *testing.T) {
	t.Parallel()

	meta := &Metadata{Versions: map[string][]Stage{
		"v1": {StagePrevious},
		"v2": {StageCurrent},
		"v3": {StagePending},
	}}

	assert.True(t, meta.HasVersion("v1"))
	assert.False(t, meta.HasVersion("v4"))
	assert.True(t, meta.HasStage("v2", StageCurrent))
	assert.False(t, meta.HasStage("v2", StagePending))
	assert.Equal(t, "v3", meta.VersionWithStage(StagePending))
	assert.Empty(t, (&Metadata{}).VersionWithStage(StageCurrent))
	assert.Equal(t, []string{"v1", "v2", "v3"}, sortedVersions(meta))
}

func TestSecretValue(t *testing.T) {
	t.Parallel()

	value, err := ParseSecretValue(`{"username":"app","password":"pw","port":5432,"ratio":0.5,"ssl":true}`)
	require.NoError(t, err)

	assert.Equal(t, "app", value.Username())
	assert.Equal(t, "pw", value.Password())
	assert.Equal(t, "5432", value.String(FieldPort))
	assert.Equal(t, "0.5", value.String("ratio"))
	assert.Equal(t, "true", value.String("ssl"))
	assert.Empty(t, value.String("missing"))
	assert.Equal(t, []string{"password", "port", "ratio", "ssl", "username"}, value.Fields())

	next := value.WithPassword("new")
	assert.Equal(t, "new", next.Password())
	assert.Equal(t, "pw", value.Password(), "WithPassword must not modify the receiver")

	encoded, err := next.Encode()
	require.NoError(t, err)
	roundTrip, err := ParseSecretValue(encoded)
	require.NoError(t, err)
	assert.Equal(t, "new", roundTrip.Password())

	for _, raw := range []string{"", "null", "[]", "plain"} {
		_, err := ParseSecretValue(raw)
		assert.Error(t, err, raw)
	}
}

func TestPasswordPolicyDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PasswordPolicy{Length: 32, ExcludeCharacters: `/@"'\`}, DefaultPasswordPolicy())
	assert.Equal(t, 32, PasswordPolicy{}.withDefaults().Length)
	assert.Equal(t, 8, PasswordPolicy{Length: 8}.withDefaults().Length)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	for _, err := range []error{ErrRotationDisabled, ErrUnknownVersion, ErrNotPending, ErrInvalidStep, ErrCredentialVerificationFailed} {
		wrapped := &StepError{SecretID: "s", Token: "t", Step: StepTest, Err: err}
		assert.True(t, IsTerminal(wrapped), err.Error())
	}

	transient := Unavailable("GetSecretValue", assert.AnError)
	assert.ErrorIs(t, transient, ErrStoreUnavailable)
	assert.ErrorIs(t, transient, assert.AnError)
	assert.False(t, IsTerminal(transient))
	assert.False(t, IsTerminal(nil))
	assert.NoError(t, Unavailable("op", nil))

	stepErr := &StepError{SecretID: "app/db", Token: "t2", Step: StepFinish, Err: transient}
	assert.Contains(t, stepErr.Error(), "finishSecret failed for secret app/db version t2")
}

func TestFormatStages(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AWSCURRENT,AWSPENDING", FormatStages([]Stage{StagePending, StageCurrent}))
	assert.Empty(t, FormatStages(nil))
}
