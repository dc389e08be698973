package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/pkg/rotation"
)

func TestObserveStep(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m.ObserveStep(ctx, rotation.StepOutcome{
		Request:   rotation.Request{SecretID: "app/db", Token: "t2", Step: rotation.StepCreate},
		Outcome:   rotation.OutcomeCompleted,
		StartedAt: started,
		Duration:  250 * time.Millisecond,
	})
	m.ObserveStep(ctx, rotation.StepOutcome{
		Request:  rotation.Request{Step: rotation.StepTest},
		Outcome:  rotation.OutcomeFailed,
		Duration: time.Second,
		Err:      &rotation.StepError{Step: rotation.StepTest, Err: rotation.ErrCredentialVerificationFailed},
	})
	m.ObserveStep(ctx, rotation.StepOutcome{
		Request: rotation.Request{Step: rotation.StepFinish},
		Outcome: rotation.OutcomeFailed,
		Err:     rotation.Unavailable("UpdateSecretVersionStage", assert.AnError),
	})
	m.ObserveStep(ctx, rotation.StepOutcome{
		Request: rotation.Request{Step: rotation.StepFinish},
		Outcome: rotation.OutcomeSkipped,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("createSecret", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("testSecret", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("finishSecret", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("testSecret", ReasonTerminal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("finishSecret", ReasonTransient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verificationFailures))
	assert.Equal(t, float64(started.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("createSecret")))

	count, err := testutil.GatherAndCount(reg, "rotator_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ReasonTerminal, Reason(rotation.ErrNotPending))
	assert.Equal(t, ReasonTransient, Reason(rotation.Unavailable("x", assert.AnError)))
	assert.Equal(t, ReasonOther, Reason(assert.AnError))
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
