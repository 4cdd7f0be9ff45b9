package env

import (
	"fmt"
	"sort"
)

// Factory builds a seeded environment.
type Factory func(seed int64) Env

var registry = map[string]Factory{
	"pendulum": func(seed int64) Env { return NewPendulum(seed) },
}

// Register adds a named environment factory.
func Register(id string, f Factory) {
	registry[id] = f
}

// IDs lists the registered environment ids.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Make builds the environment registered under id. A positive
// maxEpisodeSteps wraps it in a TimeLimit.
func Make(id string, seed int64, maxEpisodeSteps int) (Env, error) {
	f, ok := registry[id]
	if !ok {
		return nil, &ConfigurationError{Field: "env_id", Reason: fmt.Sprintf("unknown environment %q (known: %v)", id, IDs())}
	}
	e := f(seed)
	if maxEpisodeSteps <= 0 {
		return e, nil
	}
	tl, err := WithTimeLimit(e, maxEpisodeSteps)
	if err != nil {
		return nil, err
	}
	return tl, nil
}
