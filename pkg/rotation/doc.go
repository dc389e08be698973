// Package rotation implements the four-step secret rotation protocol used by
// AWS Secrets Manager rotation functions.
//
// A rotation attempt moves one secret through four steps, each delivered as a
// separate event carrying the secret identifier, the client request token
// and the step name:
//
//  1. createSecret - store a freshly generated credential as the AWSPENDING
//     version named by the token
//  2. setSecret - push the pending credential to the system that consumes it
//  3. testSecret - prove the pending credential is accepted by that system
//  4. finishSecret - move AWSCURRENT onto the pending version
//
// The Coordinator owns no state. Every call re-reads version and stage
// information from the SecretStore, so redelivery of the same
// (secret, token, step) event is safe: each step is guarded so that repeating
// it after a success has no further effect, and a token whose version is
// already AWSCURRENT short-circuits every step.
//
// # Usage Example
//
//	coordinator := rotation.NewCoordinator(store, target,
//	    rotation.WithLogger(logger),
//	    rotation.WithPasswordPolicy(rotation.PasswordPolicy{Length: 40}),
//	)
//
//	err := coordinator.HandleStep(ctx, rotation.Request{
//	    SecretID: "arn:aws:secretsmanager:us-east-1:123456789012:secret:app/db",
//	    Token:    token,
//	    Step:     rotation.StepCreate,
//	})
//	if rotation.IsTerminal(err) {
//	    // surface to an operator, redelivery will not help
//	}
//
// # Error Handling
//
// Precondition violations (ErrRotationDisabled, ErrUnknownVersion,
// ErrNotPending, ErrInvalidStep) and ErrCredentialVerificationFailed are
// terminal for the attempt. Anything else returned by the store or the
// target, typically wrapped in ErrStoreUnavailable, is passed through
// unchanged for the trigger to redeliver.
//
// # Security Considerations
//
// Secret values are never logged. Handlers log usernames and version ids
// only, and wrap anything sensitive in logging.Secret.
package rotation
