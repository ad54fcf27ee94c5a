package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an object, session or config does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSession is returned for unknown, expired or already terminated
	// multipart upload sessions.
	ErrInvalidSession = errors.New("invalid upload session")

	// ErrSessionBusy is returned while a multipart session is being completed.
	// The session stays valid and the call may be retried once the commit ends.
	ErrSessionBusy = errors.New("upload session is being completed")

	// ErrNoStrategyAvailable is returned when no backend is registered under the
	// requested, active or default key.
	ErrNoStrategyAvailable = errors.New("no storage strategy available")

	// ErrConfigurationIncomplete is returned when a backend lacks required settings.
	ErrConfigurationIncomplete = errors.New("storage configuration incomplete")

	// ErrUnsupportedOperation is returned when a backend does not implement an
	// optional capability.
	ErrUnsupportedOperation = errors.New("operation not supported by storage backend")

	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFileTooLarge is returned when an upload exceeds the backend's maxFileSize.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)

// ConfigurationIncompleteError names the settings a backend is missing.
type ConfigurationIncompleteError struct {
	Backend string
	Missing []string
}

func (e *ConfigurationIncompleteError) Error() string {
	return fmt.Sprintf("%s: backend %q requires %s", ErrConfigurationIncomplete, e.Backend, strings.Join(e.Missing, ", "))
}

func (e *ConfigurationIncompleteError) Unwrap() error {
	return ErrConfigurationIncomplete
}

// RequireSettings returns a ConfigurationIncompleteError listing every name whose
// value in settings is blank, or nil when all are present.
func RequireSettings(backend string, settings map[string]string, names ...string) error {
	var missing []string
	for _, name := range names {
		if strings.TrimSpace(settings[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ConfigurationIncompleteError{Backend: backend, Missing: missing}
}
