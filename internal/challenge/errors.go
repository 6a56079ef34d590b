package challenge

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPrompt     = errors.New("malformed prompt")
	ErrUnknownChallenge    = errors.New("unknown challenge")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidModel        = errors.New("invalid model")
	ErrInferenceFailure    = errors.New("inference failure")
	ErrImageDecode         = errors.New("image decode failure")
)

// Error attaches the offending key (a prompt, category or image id) and the
// underlying cause to one of the sentinel kinds above.
type Error struct {
	Kind error
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Key != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind returns the sentinel kind of err, or nil if err carries none.
func Kind(err error) error {
	for _, kind := range []error{
		ErrMalformedPrompt,
		ErrUnknownChallenge,
		ErrUpstreamUnavailable,
		ErrInvalidModel,
		ErrInferenceFailure,
		ErrImageDecode,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func MalformedPrompt(prompt string) error {
	return &Error{Kind: ErrMalformedPrompt, Key: prompt, Err: errors.New("no `containing` or `select all ... images` marker")}
}

func UnknownChallenge(key string) error {
	return &Error{Kind: ErrUnknownChallenge, Key: key}
}

func UpstreamUnavailable(key string, err error) error {
	return &Error{Kind: ErrUpstreamUnavailable, Key: key, Err: err}
}

func InvalidModel(key string, err error) error {
	return &Error{Kind: ErrInvalidModel, Key: key, Err: err}
}

func InferenceFailure(err error) error {
	return &Error{Kind: ErrInferenceFailure, Err: err}
}

func ImageDecode(id string, err error) error {
	return &Error{Kind: ErrImageDecode, Key: id, Err: err}
}
