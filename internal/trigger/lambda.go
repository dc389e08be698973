package trigger

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/systmms/rotator/internal/logging"
)

// LambdaHandler is the entry point of the rotation function. Returning an
// error makes Secrets Manager retry the step, which the coordinator's
// idempotency guards make safe.
type LambdaHandler struct {
	stepper Stepper
	logger  *logging.Logger
	timeout time.Duration
}

// NewLambdaHandler creates the handler. A positive timeout bounds each step
// in addition to the function deadline.
func NewLambdaHandler(stepper Stepper, logger *logging.Logger, timeout time.Duration) *LambdaHandler {
	return &LambdaHandler{stepper: stepper, logger: logger, timeout: timeout}
}

// Handle processes one rotation event.
func (h *LambdaHandler) Handle(ctx context.Context, event events.SecretsManagerSecretRotationEvent) error {
	logger := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With("request_id", lc.AwsRequestID)
	}

	req, err := FromLambda(event).Request()
	if err != nil {
		logger.Error("Rejected rotation event for %s: %v", event.SecretID, err)
		return err
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	logger.Info("Handling %s for %s version %s", req.Step, req.SecretID, req.Token)
	return h.stepper.HandleStep(ctx, req)
}
