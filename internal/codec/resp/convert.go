package resp

import (
	"fmt"

	"shardgate/internal/codec"
)

// ToString extracts a string from a simple/bulk reply.
func ToString(r codec.Reply) (string, error) {
	switch r.Kind {
	case codec.KindSimple, codec.KindBulk:
		if r.Nil {
			return "", fmt.Errorf("resp: reply is nil")
		}
		return r.Str, nil
	case codec.KindError:
		return "", fmt.Errorf("resp: %s", r.Err)
	default:
		return "", fmt.Errorf("resp: reply kind %v is not a string", r.Kind)
	}
}

// ToInt64 extracts an integer from an integer reply.
func ToInt64(r codec.Reply) (int64, error) {
	if r.Kind == codec.KindError {
		return 0, fmt.Errorf("resp: %s", r.Err)
	}
	if r.Kind != codec.KindInteger {
		return 0, fmt.Errorf("resp: reply kind %v is not an integer", r.Kind)
	}
	return r.Int, nil
}

// ToStringSlice flattens an array reply of bulk strings.
func ToStringSlice(r codec.Reply) ([]string, error) {
	if r.Kind == codec.KindError {
		return nil, fmt.Errorf("resp: %s", r.Err)
	}
	if r.Kind != codec.KindArray {
		return nil, fmt.Errorf("resp: reply kind %v is not an array", r.Kind)
	}
	out := make([]string, 0, len(r.Array))
	for _, elem := range r.Array {
		s, err := ToString(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// IsError reports whether r is an error reply.
func IsError(r codec.Reply) bool {
	return r.Kind == codec.KindError
}
