// Package integrators implements fixed-step ODE schemes for dynamo systems.
package integrators

import (
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/dynamo"
)

var schemes = map[string]func() dynamo.Integrator{
	"euler":         func() dynamo.Integrator { return NewEuler() },
	"semi_implicit": func() dynamo.Integrator { return NewSemiImplicitEuler() },
	"rk4":           func() dynamo.Integrator { return NewRK4() },
}

// New returns a fresh integrator by name.
func New(name string) (dynamo.Integrator, error) {
	f, ok := schemes[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown integrator %q", arm.ErrInvalidConfig, name)
	}
	return f(), nil
}

func Names() []string {
	out := make([]string, 0, len(schemes))
	for n := range schemes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
