package defaults

import "time"

const (
	// PauseInterval defines the interval between condition evaluations
	PauseInterval = 100 * time.Millisecond

	// SettlePause defines the pause given to the UI to settle after a
	// mutating action such as closing a spurious dialog
	SettlePause = 500 * time.Millisecond

	// DialogOpenTimeout defines the amount of time to wait for a dialog
	// to appear after its trigger has been clicked
	DialogOpenTimeout = 10 * time.Second

	// DialogCloseTimeout defines the amount of time to wait for a dialog
	// to leave the screen after its close control has been clicked
	DialogCloseTimeout = 10 * time.Second

	// EnabledTimeout defines the amount of time to wait for a control to
	// become enabled before clicking it
	EnabledTimeout = 5 * time.Second

	// StaleCheckFloor is the minimum duration of the staleness wait during
	// ambiguity resolution
	StaleCheckFloor = 1 * time.Second

	// FindTimeout defines the timeout to use for lookup operations
	FindTimeout = 20 * time.Second

	// TextRecoveryPause defines the pause before re-reading element text
	// when the first read failed
	TextRecoveryPause = 200 * time.Millisecond

	// RetryDelay defines the interval between retry attempts
	RetryDelay = 5 * time.Second
	// RetryAttempts defines the maximum number of retry attempts
	RetryAttempts = 100
	// RetryMaxDelay defines the ceiling for exponential retry delays
	RetryMaxDelay = 30 * time.Second

	// MaxPurgedAlerts caps the number of alerts purged in one sweep
	MaxPurgedAlerts = 10
)
