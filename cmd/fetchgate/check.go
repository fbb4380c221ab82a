package main

import (
	"fmt"

	"github.com/fwojciec/fetchgate"
)

// Run executes the check command.
func (c *CheckCmd) Run(deps *Dependencies) error {
	if err := deps.Config.Validate(); err != nil {
		fmt.Fprintf(deps.Stderr, "error: %s\n", fetchgate.ErrorMessage(err))
		return err
	}

	fmt.Fprintf(deps.Stdout, "configuration OK: %d scope override(s)\n", len(deps.Config.Scopes))
	for name := range deps.Config.Scopes {
		s := deps.Config.ScopeSettings(name)
		fmt.Fprintf(deps.Stdout, "  %s: concurrency=%d delay=%s quota=%v\n",
			name, s.Concurrency, s.Delay, s.Quota)
	}
	return nil
}
