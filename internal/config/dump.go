package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Dump renders the effective configuration as YAML under the `flowlens:`
// root key. Durations are written in their string form so the output can be
// fed back to Load.
func Dump(cfg *Config) ([]byte, error) {
	tree := map[string]any{"flowlens": toTree(reflect.ValueOf(*cfg))}
	out, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// toTree converts a config value to plain maps keyed by mapstructure tag.
func toTree(v reflect.Value) any {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String()
	}
	switch v.Kind() {
	case reflect.Struct:
		m := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
			if name == "" || name == "-" {
				continue
			}
			m[name] = toTree(v.Field(i))
		}
		return m
	case reflect.Map:
		if v.IsNil() {
			return map[string]any{}
		}
		return v.Interface()
	default:
		return v.Interface()
	}
}
