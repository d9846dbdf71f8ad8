// Package pipeline turns a signal and its feature vector into an auditable
// Decision. Stages run grouped by order: safety, correlation, scoring, the
// rule and advisor adjustments together, and finally the circuit breaker.
// Once a stage reaches a terminal state the remaining groups are skipped.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Pipeline runs its stages grouped by order and stops at the first terminal state.
type Pipeline struct {
	name   string
	stages [][]Stage
}

// New groups stages by Meta().Order. Stages sharing an order run
// concurrently and nil stages are ignored.
func New(name string, stages ...Stage) *Pipeline {
	if len(stages) == 0 {
		return &Pipeline{name: name}
	}
	byOrder := make(map[int][]Stage)
	for _, st := range stages {
		if st == nil {
			continue
		}
		meta := st.Meta()
		byOrder[meta.Order] = append(byOrder[meta.Order], st)
	}
	keys := make([]int, 0, len(byOrder))
	for order := range byOrder {
		keys = append(keys, order)
	}
	sort.Ints(keys)
	grouped := make([][]Stage, 0, len(keys))
	for _, order := range keys {
		grouped = append(grouped, byOrder[order])
	}
	return &Pipeline{name: name, stages: grouped}
}

// Run executes the groups in order. Only a critical stage error is returned;
// other stage failures are recorded on ev as warnings.
func (p *Pipeline) Run(ctx context.Context, ev *Evaluation) error {
	if ev == nil {
		return fmt.Errorf("nil evaluation")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, group := range p.stages {
		if ev.Terminal() {
			return nil
		}
		ev.enter(group[0].Meta().State)
		if err := p.runGroup(ctx, ev, group); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runGroup(ctx context.Context, ev *Evaluation, group []Stage) error {
	eg, groupCtx := errgroup.WithContext(ctx)
	warnCh := make(chan *StageError, len(group))
	for _, st := range group {
		st := st
		eg.Go(func() error {
			meta := st.Meta()
			runCtx := groupCtx
			if meta.Timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(groupCtx, meta.Timeout)
				defer cancel()
			}
			err := st.Handle(runCtx, ev)
			if err == nil {
				return nil
			}
			sErr := &StageError{Stage: meta.Name, Order: meta.Order, Critical: meta.Critical, Err: err}
			if meta.Critical {
				return sErr
			}
			warnCh <- sErr
			return nil
		})
	}
	err := eg.Wait()
	close(warnCh)
	for warn := range warnCh {
		ev.AddWarning(warn.Error())
		log.Warnf("%s %s %s", p.name, ev.Signal.Asset, warn.Error())
	}
	return err
}
