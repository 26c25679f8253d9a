package eventloop

import "github.com/sagernet/sing-socket/channel"

// GlobalExecutor runs every task on its own goroutine. Channels use it for blocking closes
// that must not stall their loop.
var GlobalExecutor channel.Executor = goroutineExecutor{}

type goroutineExecutor struct{}

func (goroutineExecutor) Execute(task func()) error {
	go task()
	return nil
}
