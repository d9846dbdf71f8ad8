package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Stage is one step of the confidence pipeline. Stages sharing an Order run
// concurrently; orders run in ascending sequence.
type Stage interface {
	Meta() StageMeta
	Handle(ctx context.Context, ev *Evaluation) error
}

// StageMeta carries what the runner needs to schedule a stage.
type StageMeta struct {
	Name     string
	Order    int
	State    State
	Critical bool
	Timeout  time.Duration
}

// StageError wraps a stage failure. Non-critical ones are recorded as warnings.
type StageError struct {
	Stage    string
	Order    int
	Critical bool
	Err      error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Stage
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
