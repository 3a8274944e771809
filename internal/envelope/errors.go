package envelope

import "fmt"

// DecryptionError reports a value or data key that could not be decrypted:
// corrupt encoding, wrong key, or a master key rejection.
type DecryptionError struct {
	Key    string // variable name, when known
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	msg := "decryption failed"
	if e.Key != "" {
		msg += fmt.Sprintf(" for %s", e.Key)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
