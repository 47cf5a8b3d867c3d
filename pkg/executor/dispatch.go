package executor

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// dispatcher runs notification tasks.
type dispatcher interface {
	// dispatch reports false when the task could not be scheduled.
	dispatch(task func()) bool
	// wait blocks until every scheduled task returned or the timeout passed.
	wait(timeout time.Duration) bool
}

type syncDispatcher struct{}

func (syncDispatcher) dispatch(task func()) bool {
	task()
	return true
}

func (syncDispatcher) wait(time.Duration) bool {
	return true
}

// asyncDispatcher is a bounded worker pool. Tasks never fail the group;
// controller errors are handled inside the task.
type asyncDispatcher struct {
	group *errgroup.Group
}

func newAsyncDispatcher(workers int) *asyncDispatcher {
	group := &errgroup.Group{}
	group.SetLimit(workers)
	return &asyncDispatcher{group: group}
}

func (d *asyncDispatcher) dispatch(task func()) bool {
	return d.group.TryGo(func() error {
		task()
		return nil
	})
}

func (d *asyncDispatcher) wait(timeout time.Duration) bool {
	done := make(chan error, 1)
	go func() {
		done <- d.group.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
