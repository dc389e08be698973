package config

import (
	"strconv"
	"strings"

	dserrors "github.com/systmms/rotator/internal/errors"
)

// Environment variable names. The Lambda function is configured through
// these alone; the CLI reads them on top of the configuration file.
const (
	EnvRegion            = "ROTATOR_REGION"
	EnvAWSRegion         = "AWS_REGION"
	EnvEndpoint          = "ROTATOR_ENDPOINT"
	EnvStore             = "ROTATOR_STORE"
	EnvFixture           = "ROTATOR_FIXTURE"
	EnvStoreTimeoutMs    = "ROTATOR_STORE_TIMEOUT_MS"
	EnvPasswordLength    = "ROTATOR_PASSWORD_LENGTH"
	EnvExcludeCharacters = "ROTATOR_EXCLUDE_CHARACTERS"
	EnvTarget            = "ROTATOR_TARGET"
	EnvDBEngine          = "ROTATOR_DB_ENGINE"
	EnvMasterSecretID    = "ROTATOR_MASTER_SECRET_ID"
	EnvSSLMode           = "ROTATOR_SSLMODE"
	EnvTargetTimeoutMs   = "ROTATOR_TARGET_TIMEOUT_MS"
	EnvCacheTTL          = "ROTATOR_CACHE_TTL"
	EnvJournalDir        = "ROTATOR_JOURNAL_DIR"
	EnvJournal           = "ROTATOR_JOURNAL"
	EnvAddr              = "ROTATOR_ADDR"
	EnvLogFormat         = "ROTATOR_LOG_FORMAT"
	EnvDebug             = "ROTATOR_DEBUG"

	// EnvConfigParameter names an SSM parameter holding a rotator.yaml
	// document. It is read before the other variables are applied.
	EnvConfigParameter = "ROTATOR_CONFIG_PARAMETER"
)

// ApplyEnv overrides settings with the ROTATOR_* variables that are set
func ApplyEnv(s *Settings, getenv func(string) string) error {
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) error {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return dserrors.ConfigError{
				Field:      name,
				Value:      v,
				Message:    "not an integer",
				Suggestion: "Set " + name + " to a whole number",
			}
		}
		*dst = n
		return nil
	}
	setBool := func(name string, dst *bool) error {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return dserrors.ConfigError{
				Field:      name,
				Value:      v,
				Message:    "not a boolean",
				Suggestion: "Set " + name + " to true or false",
			}
		}
		*dst = b
		return nil
	}

	// AWS_REGION is set by the Lambda runtime; ROTATOR_REGION wins over it.
	setString(EnvAWSRegion, &s.AWS.Region)
	setString(EnvRegion, &s.AWS.Region)
	setString(EnvEndpoint, &s.AWS.Endpoint)

	setString(EnvStore, &s.Store.Type)
	setString(EnvFixture, &s.Store.Fixture)
	setString(EnvExcludeCharacters, &s.Password.ExcludeCharacters)
	setString(EnvTarget, &s.Target.Type)
	setString(EnvDBEngine, &s.Target.Engine)
	setString(EnvMasterSecretID, &s.Target.MasterSecretID)
	setString(EnvSSLMode, &s.Target.SSLMode)
	setString(EnvCacheTTL, &s.Cache.TTL)
	setString(EnvJournalDir, &s.Journal.Dir)
	setString(EnvAddr, &s.Server.Addr)
	setString(EnvLogFormat, &s.Log.Format)

	for name, dst := range map[string]*int{
		EnvStoreTimeoutMs:  &s.Store.TimeoutMs,
		EnvPasswordLength:  &s.Password.Length,
		EnvTargetTimeoutMs: &s.Target.TimeoutMs,
	} {
		if err := setInt(name, dst); err != nil {
			return err
		}
	}

	if err := setBool(EnvDebug, &s.Log.Debug); err != nil {
		return err
	}

	if getenv(EnvJournal) != "" {
		var enabled bool
		if err := setBool(EnvJournal, &enabled); err != nil {
			return err
		}
		s.Journal.Enabled = &enabled
	}
	return nil
}
