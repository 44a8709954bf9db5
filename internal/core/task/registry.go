package task

import (
	"fmt"
	"sort"
)

// Factory builds a task
type Factory func(deps Deps) (Engine, error)

var factories = map[string]Factory{
	NameSteadyHand: func(deps Deps) (Engine, error) {
		t, err := NewSteadyHand(deps)
		if err != nil {
			return nil, err
		}
		return t, nil
	},
	NameNeedle: func(deps Deps) (Engine, error) {
		t, err := NewNeedle(deps)
		if err != nil {
			return nil, err
		}
		return t, nil
	},
	NameQuidditch: func(deps Deps) (Engine, error) {
		t, err := NewQuidditch(deps)
		if err != nil {
			return nil, err
		}
		return t, nil
	},
}

// New builds the task registered under name
func New(name string, deps Deps) (Engine, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return f(deps)
}

// Names lists the registered tasks in alphabetical order
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	_ Engine = (*SteadyHand)(nil)
	_ Engine = (*Needle)(nil)
	_ Engine = (*Quidditch)(nil)
)
