package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Defaults applied when the params bag omits a recognized knob.
const (
	DefaultN                = 1
	DefaultMaxLength        = 80
	DefaultMaxContentLength = 1024
)

// GenParams are the generation knobs the scheduler recognizes inside an
// otherwise opaque params bag.
type GenParams struct {
	// N is how many independent generations the prompt asks for.
	N int
	// MaxLength is the number of tokens the serving worker must be able
	// to emit.
	MaxLength int
	// MaxContentLength is the number of context tokens the serving worker
	// must accept.
	MaxContentLength int
}

// ParseGenParams typechecks the recognized knobs and applies defaults. Every
// other key rides along untouched for the worker payload.
func ParseGenParams(params map[string]any) (GenParams, error) {
	gp := GenParams{
		N:                DefaultN,
		MaxLength:        DefaultMaxLength,
		MaxContentLength: DefaultMaxContentLength,
	}
	var err error
	if v, ok := params["n"]; ok {
		if gp.N, err = uintParam("n", v); err != nil {
			return GenParams{}, err
		}
	}
	if v, ok := params["max_length"]; ok {
		if gp.MaxLength, err = uintParam("max_length", v); err != nil {
			return GenParams{}, err
		}
	}
	if v, ok := params["max_content_length"]; ok {
		if gp.MaxContentLength, err = uintParam("max_content_length", v); err != nil {
			return GenParams{}, err
		}
	}
	return gp, nil
}

// BuildPayload clones the params bag into the payload echoed to workers at
// dispatch. The prompt is inlined and n forced to one: each dispatched unit
// is a single iteration from the worker's point of view.
func BuildPayload(params map[string]any, prompt string) map[string]any {
	payload := make(map[string]any, len(params)+2)
	for k, v := range params {
		payload[k] = v
	}
	payload["prompt"] = prompt
	payload["n"] = 1
	return payload
}

// uintParam coerces the decoded JSON forms of an unsigned integer. Anything
// negative, fractional, or non-numeric is a bad argument.
func uintParam(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		if n >= 0 {
			return n, nil
		}
	case int64:
		if n >= 0 {
			return int(n), nil
		}
	case float64:
		if n >= 0 && n == math.Trunc(n) {
			return int(n), nil
		}
	case json.Number:
		if i, err := n.Int64(); err == nil && i >= 0 {
			return int(i), nil
		}
	}
	return 0, fmt.Errorf("op=params.parse: bad value for %s: %v: %w", key, v, ErrInvalidArgument)
}
