package params

import (
	"fmt"
	"math"

	"fascicle/internal/services"
)

// String returns a required string option.
func (o Options) String(stage, key string) (string, error) {
	value, ok := o[key]
	if !ok {
		return "", missing(stage, key)
	}
	str, ok := value.(string)
	if !ok {
		return "", badType(stage, key, "string", value)
	}
	return str, nil
}

// Float returns a required floating-point option. Integer values are
// accepted since TOML distinguishes the two.
func (o Options) Float(stage, key string) (float64, error) {
	value, ok := o[key]
	if !ok {
		return 0, missing(stage, key)
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, badType(stage, key, "float", value)
	}
}

// Int returns a required integer option. Whole-number floats are accepted.
func (o Options) Int(stage, key string) (int, error) {
	value, ok := o[key]
	if !ok {
		return 0, missing(stage, key)
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, badType(stage, key, "integer", value)
		}
		return int(v), nil
	default:
		return 0, badType(stage, key, "integer", value)
	}
}

// Bool returns a required boolean option.
func (o Options) Bool(stage, key string) (bool, error) {
	value, ok := o[key]
	if !ok {
		return false, missing(stage, key)
	}
	b, ok := value.(bool)
	if !ok {
		return false, badType(stage, key, "bool", value)
	}
	return b, nil
}

// Strings returns a required string-list option.
func (o Options) Strings(stage, key string) ([]string, error) {
	value, ok := o[key]
	if !ok {
		return nil, missing(stage, key)
	}
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, badType(stage, key, "string list", value)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, badType(stage, key, "string list", value)
	}
}

func missing(stage, key string) error {
	return services.Wrap(services.ErrConfiguration, stage, "parameters",
		fmt.Sprintf("required option %q is absent", key), nil)
}

func badType(stage, key, want string, got any) error {
	return services.Wrap(services.ErrConfiguration, stage, "parameters",
		fmt.Sprintf("option %q must be a %s, got %T", key, want, got), nil)
}
