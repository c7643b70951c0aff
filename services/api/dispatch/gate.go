package dispatch

import "crypto/subtle"

// Decision is the outcome of the credential gate.
type Decision int

const (
	Authorized Decision = iota
	Disabled
	Unauthorized
)

func (d Decision) String() string {
	switch d {
	case Authorized:
		return "authorized"
	case Disabled:
		return "disabled"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for a rejecting decision, nil otherwise.
func (d Decision) Err() error {
	switch d {
	case Disabled:
		return ErrServiceDisabled
	case Unauthorized:
		return ErrUnauthorized
	default:
		return nil
	}
}

// Authorize checks a caller-supplied API key against the dispatch
// configuration. An empty configured key admits every caller.
func Authorize(cfg DispatchConfig, key string) Decision {
	if !cfg.APIEnabled {
		return Disabled
	}
	if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(cfg.APIKey), []byte(key)) != 1 {
		return Unauthorized
	}
	return Authorized
}
