package auth

// ValidationError represents a specific type of token validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeMissingToken indicates no bearer token was sent.
	ErrTypeMissingToken ValidationErrorType = iota
	// ErrTypeMalformed indicates the token could not be parsed.
	ErrTypeMalformed
	// ErrTypeExpired indicates the token is expired or not yet valid.
	ErrTypeExpired
	// ErrTypeInvalidSignature indicates a bad signature or signing method.
	ErrTypeInvalidSignature
	// ErrTypeInvalidClaims indicates a wrong issuer or audience, or a missing subject.
	ErrTypeInvalidClaims
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeMissingToken:
		return "missing_token"
	case ErrTypeMalformed:
		return "malformed"
	case ErrTypeExpired:
		return "expired"
	case ErrTypeInvalidSignature:
		return "invalid_signature"
	case ErrTypeInvalidClaims:
		return "invalid_claims"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
