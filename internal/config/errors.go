package config

// InvalidError reports a ConfigInvalid-kind failure: malformed or
// missing required configuration discovered before boot proceeds.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "config invalid: " + e.Reason
}
