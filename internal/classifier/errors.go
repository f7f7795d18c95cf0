package classifier

import "fmt"

// Reason strings returned to clients.
const (
	ReasonValidation = "validation_error"
	ReasonFetch      = "fetch_error"
	ReasonDecode     = "decode_error"
	ReasonInference  = "inference_error"
	ReasonNotReady   = "not_ready"
)

// ValidationError reports a malformed request.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid request: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// FetchError reports that the image URL could not be downloaded.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError reports that the downloaded bytes are not a supported image.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.URL, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// InferenceError reports a failure inside the model runtime.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("inference: %v", e.Err) }
func (e *InferenceError) Unwrap() error { return e.Err }
