package task

import (
	"context"
	"sync"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

type taskItem struct {
	name string
	run  func(ctx context.Context) error
}

// Group runs named tasks concurrently. The first failure cancels the others.
type Group struct {
	tasks []taskItem
}

func (g *Group) Append(name string, f func(ctx context.Context) error) {
	g.tasks = append(g.tasks, taskItem{name, f})
}

// Run waits for every task and returns the first error, prefixed by the task name.
func (g *Group) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		access   sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	wg.Add(len(g.tasks))
	for _, item := range g.tasks {
		item := item
		go func() {
			defer wg.Done()
			err := item.run(ctx)
			if err == nil {
				return
			}
			access.Lock()
			if firstErr == nil {
				firstErr = E.Cause(err, item.name)
			}
			access.Unlock()
			cancel()
		}()
	}
	wg.Wait()
	return firstErr
}

func Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	var group Group
	for _, task := range tasks {
		group.Append("task", task)
	}
	return group.Run(ctx)
}
