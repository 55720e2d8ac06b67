package workers

import (
	"fmt"
	"sort"

	"warden/internal/daemon"
)

// Worker is a routine that plugs its tasks, commands, status lines, and
// metrics into a daemon before its loop starts.
type Worker interface {
	Name() string
	Init(d *daemon.Daemon) error
}

var registry = map[string]func() Worker{}

func register(name string, factory func() Worker) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("worker %q registered twice", name))
	}
	registry[name] = factory
}

// Lookup returns a fresh worker instance for the configured name.
func Lookup(name string) (Worker, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown worker %q (available: %v)", name, Names())
	}
	return factory(), nil
}

// Names lists the registered worker names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
