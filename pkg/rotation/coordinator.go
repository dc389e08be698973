package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/rotator/internal/logging"
)

// Coordinator drives a secret through the rotation protocol one step at a time.
type Coordinator struct {
	store     SecretStore
	target    CredentialTarget
	policy    PasswordPolicy
	logger    *logging.Logger
	observers []StepObserver
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default logs to stderr without color or debug output.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithPasswordPolicy sets the policy used by createSecret.
func WithPasswordPolicy(policy PasswordPolicy) Option {
	return func(c *Coordinator) {
		c.policy = policy.withDefaults()
	}
}

// WithObserver registers an observer notified after every step.
func WithObserver(observer StepObserver) Option {
	return func(c *Coordinator) {
		if observer != nil {
			c.observers = append(c.observers, observer)
		}
	}
}

// WithClock overrides the time source used for step timings (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator. Any caching decorator around store is
// stripped with Uncached.
func NewCoordinator(store SecretStore, target CredentialTarget, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  Uncached(store),
		target: target,
		policy: DefaultPasswordPolicy(),
		logger: logging.New(false, true),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type stepHandler func(ctx context.Context, c *Coordinator, req Request) error

var handlers = map[Step]stepHandler{
	StepCreate: createSecret,
	StepSet:    setSecret,
	StepTest:   testSecret,
	StepFinish: finishSecret,
}

// errAlreadyCurrent short-circuits a step whose token already completed.
var errAlreadyCurrent = errors.New("version already AWSCURRENT")

// HandleStep validates the request against the secret's current state and
// runs exactly one step handler. A token whose version is already AWSCURRENT
// returns nil without running anything.
func (c *Coordinator) HandleStep(ctx context.Context, req Request) error {
	start := c.now()
	err := c.handleStep(ctx, req)

	outcome := OutcomeCompleted
	switch {
	case errors.Is(err, errAlreadyCurrent):
		outcome = OutcomeSkipped
		err = nil
	case err != nil:
		outcome = OutcomeFailed
		err = &StepError{SecretID: req.SecretID, Token: req.Token, Step: req.Step, Err: err}
	}

	result := StepOutcome{
		Request:   req,
		Outcome:   outcome,
		StartedAt: start,
		Duration:  c.now().Sub(start),
		Err:       err,
	}
	for _, observer := range c.observers {
		observer.ObserveStep(ctx, result)
	}

	if err != nil {
		c.logger.Error("%s failed for %s: %v", req.Step, req.SecretID, err)
	}
	return err
}

func (c *Coordinator) handleStep(ctx context.Context, req Request) error {
	handler, ok := handlers[req.Step]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidStep, req.Step)
	}

	if err := c.checkPreconditions(ctx, req); err != nil {
		return err
	}

	c.logger.Debug("Running %s for %s version %s", req.Step, req.SecretID, req.Token)
	return handler(ctx, c, req)
}

func (c *Coordinator) checkPreconditions(ctx context.Context, req Request) error {
	meta, err := c.store.DescribeSecret(ctx, req.SecretID)
	if err != nil {
		return fmt.Errorf("failed to describe secret: %w", err)
	}

	if !meta.RotationEnabled {
		return fmt.Errorf("%w: %s", ErrRotationDisabled, req.SecretID)
	}
	if !meta.HasVersion(req.Token) {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, req.Token)
	}
	if meta.HasStage(req.Token, StageCurrent) {
		c.logger.Info("Version %s of %s is already AWSCURRENT, nothing to do for %s", req.Token, req.SecretID, req.Step)
		return errAlreadyCurrent
	}
	if !meta.HasStage(req.Token, StagePending) {
		return fmt.Errorf("%w: %s has stages [%s]", ErrNotPending, req.Token, FormatStages(meta.StagesOf(req.Token)))
	}
	return nil
}

// createSecret stores a new AWSPENDING value for the token unless an earlier
// delivery of this step already did.
func createSecret(ctx context.Context, c *Coordinator, req Request) error {
	_, err := c.store.GetSecretValue(ctx, req.SecretID, req.Token, StagePending)
	if err == nil {
		c.logger.Info("createSecret: pending version %s of %s already exists", req.Token, req.SecretID)
		return nil
	}
	if !errors.Is(err, ErrValueNotFound) {
		return fmt.Errorf("failed to look up pending value: %w", err)
	}

	current, err := c.store.GetSecretValue(ctx, req.SecretID, "", StageCurrent)
	if err != nil {
		return fmt.Errorf("failed to read current value: %w", err)
	}

	password, err := c.store.GenerateRandomValue(ctx, c.policy)
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}

	pending := current.WithPassword(password)
	if err := c.store.PutSecretValue(ctx, req.SecretID, req.Token, pending, []Stage{StagePending}); err != nil {
		return fmt.Errorf("failed to store pending value: %w", err)
	}

	c.logger.Info("createSecret: stored pending version %s of %s", req.Token, req.SecretID)
	return nil
}

// setSecret pushes the pending credential to the target.
func setSecret(ctx context.Context, c *Coordinator, req Request) error {
	pending, err := c.pendingValue(ctx, req)
	if err != nil {
		return err
	}

	current, err := c.store.GetSecretValue(ctx, req.SecretID, "", StageCurrent)
	if err != nil && !errors.Is(err, ErrValueNotFound) {
		return fmt.Errorf("failed to read current value: %w", err)
	}

	if err := c.target.ApplyCredential(ctx, ApplyRequest{
		SecretID: req.SecretID,
		Token:    req.Token,
		Pending:  pending,
		Current:  current,
	}); err != nil {
		return fmt.Errorf("failed to apply pending credential: %w", err)
	}

	c.logger.Info("setSecret: applied pending credential for user %s", pending.Username())
	return nil
}

// testSecret verifies the pending credential. A rejection leaves AWSPENDING in
// place and blocks finishSecret.
func testSecret(ctx context.Context, c *Coordinator, req Request) error {
	pending, err := c.pendingValue(ctx, req)
	if err != nil {
		return err
	}

	ok, err := c.target.VerifyCredential(ctx, pending)
	if err != nil {
		return fmt.Errorf("failed to verify pending credential: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: user %s", ErrCredentialVerificationFailed, pending.Username())
	}

	c.logger.Info("testSecret: pending credential for user %s accepted", pending.Username())
	return nil
}

// finishSecret moves AWSCURRENT to the token's version in one store call.
func finishSecret(ctx context.Context, c *Coordinator, req Request) error {
	meta, err := c.store.DescribeSecret(ctx, req.SecretID)
	if err != nil {
		return fmt.Errorf("failed to describe secret: %w", err)
	}

	var previous string
	for _, id := range sortedVersions(meta) {
		if id != req.Token && meta.HasStage(id, StageCurrent) {
			previous = id
			break
		}
	}

	if err := c.store.UpdateVersionStage(ctx, req.SecretID, StageCurrent, req.Token, previous); err != nil {
		return fmt.Errorf("failed to move AWSCURRENT: %w", err)
	}

	if previous == "" {
		c.logger.Warn("finishSecret: %s had no AWSCURRENT version, added it to %s", req.SecretID, req.Token)
	} else {
		c.logger.Info("finishSecret: moved AWSCURRENT of %s from %s to %s", req.SecretID, previous, req.Token)
	}
	return nil
}

func (c *Coordinator) pendingValue(ctx context.Context, req Request) (SecretValue, error) {
	value, err := c.store.GetSecretValue(ctx, req.SecretID, req.Token, StagePending)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending value: %w", err)
	}
	return value, nil
}
