package engine

import (
	"errors"
	"fmt"
)

// errStepPanicked marks a sequencer step that panicked.
var errStepPanicked = errors.New("panicked")

// runSafely runs one sequencer step, an operation's apply or a view observer,
// on the sequencer goroutine. A panic comes back as an error wrapping
// errStepPanicked and the sequencer keeps serving later operations.
func runSafely(step string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: %w: %v", step, errStepPanicked, recovered)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	return nil
}
