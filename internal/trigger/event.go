// Package trigger delivers rotation events to a Coordinator. Secrets Manager
// invokes the Lambda handler once per step; the HTTP server accepts the same
// event shape for self-hosted schedulers.
package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/systmms/rotator/pkg/rotation"
)

// Event is one rotation step as Secrets Manager delivers it.
type Event struct {
	SecretID           string `json:"SecretId"`
	ClientRequestToken string `json:"ClientRequestToken"`
	Step               string `json:"Step"`
}

// FromLambda converts the aws-lambda-go event type.
func FromLambda(e events.SecretsManagerSecretRotationEvent) Event {
	return Event{
		SecretID:           e.SecretID,
		ClientRequestToken: e.ClientRequestToken,
		Step:               e.Step,
	}
}

// Request validates the event and converts it into a coordinator request.
// An unknown step is reported as rotation.ErrInvalidStep.
func (e Event) Request() (rotation.Request, error) {
	step, err := rotation.ParseStep(e.Step)
	if err != nil {
		return rotation.Request{}, err
	}
	if strings.TrimSpace(e.SecretID) == "" {
		return rotation.Request{}, fmt.Errorf("event has no SecretId")
	}
	if strings.TrimSpace(e.ClientRequestToken) == "" {
		return rotation.Request{}, fmt.Errorf("event has no ClientRequestToken")
	}
	return rotation.Request{
		SecretID: e.SecretID,
		Token:    e.ClientRequestToken,
		Step:     step,
	}, nil
}

// Stepper runs one rotation step. *rotation.Coordinator implements it.
type Stepper interface {
	HandleStep(ctx context.Context, req rotation.Request) error
}
