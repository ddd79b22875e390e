package vapid

import "errors"

var (
	// ErrKeyFormat matches every *KeyFormatError.
	ErrKeyFormat = errors.New("vapid: invalid key material")
	// ErrSigning matches every *SigningError.
	ErrSigning = errors.New("vapid: signing failed")
	// ErrNoKey is returned by KeyMaterial.Current before a key was loaded.
	ErrNoKey = errors.New("vapid: no signing key loaded")
)

// KeyFormatError reports key material that cannot be imported: wrong length,
// malformed encoding, a curve other than P-256, or a public key that does not
// match the private scalar. It is fatal at startup.
type KeyFormatError struct {
	Reason string
	Err    error
}

func (e *KeyFormatError) Error() string {
	if e.Err != nil {
		return "vapid: invalid key material: " + e.Reason + ": " + e.Err.Error()
	}
	return "vapid: invalid key material: " + e.Reason
}

func (e *KeyFormatError) Unwrap() error { return e.Err }

func (e *KeyFormatError) Is(target error) bool { return target == ErrKeyFormat }

// SigningError reports a token that could not be produced for one target.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return "vapid: signing failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "vapid: signing failed: " + e.Reason
}

func (e *SigningError) Unwrap() error { return e.Err }

func (e *SigningError) Is(target error) bool { return target == ErrSigning }
