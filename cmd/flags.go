package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// enumValue is a string flag restricted to a fixed set of values.
type enumValue struct {
	value   string
	allowed []string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnum(def string, allowed ...string) *enumValue {
	return &enumValue{value: def, allowed: allowed}
}

func (e *enumValue) String() string { return e.value }
func (e *enumValue) Type() string   { return "string" }

func (e *enumValue) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range e.allowed {
		if v == a {
			e.value = v
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(e.allowed, ", "))
}

// enumFlag registers an enumValue on fs and returns it.
func enumFlag(fs *pflag.FlagSet, name, def, usage string, allowed ...string) *enumValue {
	v := newEnum(def, allowed...)
	fs.Var(v, name, fmt.Sprintf("%s (%s)", usage, strings.Join(allowed, "|")))
	return v
}
