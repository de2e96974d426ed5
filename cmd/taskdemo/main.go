// Command taskdemo wires a groupgraph.Tree through a scheduler.Manager
// and runs a handful of frames, printing task-group start/end order as
// it goes. It models three scenarios end to end: a linear init/update/
// render frame, two groups that run off the same dependency and chain
// independently, and a group restricted to a named "io" thread.
package main

import (
	"flag"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tim42/tools-sub000/groupgraph"
	"github.com/tim42/tools-sub000/must"
	"github.com/tim42/tools-sub000/scheduler"
	"github.com/tim42/tools-sub000/task"
)

var (
	frames  = flag.Int("frames", 3, "number of frames to run")
	workers = flag.Int("w", 4, "number of generic worker goroutines")
	initN   = flag.Int("init", 20, "tasks in the init group per frame")
	updateN = flag.Int("update", 10, "tasks in the update group per frame")
	renderN = flag.Int("render", 4, "tasks in the render group per frame")
	ioN     = flag.Int("io", 6, "tasks in the io group per frame")
)

type discardLogger struct{}

func (discardLogger) Warnf(format string, args ...any) {}

func main() {
	flag.Parse()

	threads := scheduler.NewThreadsConfig()
	ioThread := threads.AddNamedThread("io", scheduler.NamedThreadConfig{}, discardLogger{})

	tree := groupgraph.NewTree()
	initG := tree.AddTaskGroup("init")
	updateG := tree.AddTaskGroup("update")
	renderG := tree.AddTaskGroup("render")
	ioG := tree.AddTaskGroup("io", groupgraph.WithNamedThread(ioThread))

	tree.AddDependency(updateG, initG)
	tree.AddDependency(renderG, updateG)
	tree.AddDependency(ioG, initG)

	compiled := must.Must2(tree.Compile())
	fmt.Printf("compiled graph: %d chains, %d opcodes\n", compiled.ChainCount, len(compiled.Opcodes))

	mgr := scheduler.NewManager(scheduler.Config{})
	mgr.Load(compiled, threads)

	groups := map[string]task.GroupID{
		"init":   initG,
		"update": updateG,
		"render": renderG,
		"io":     ioG,
	}
	for name, id := range groups {
		name, id := name, id
		mgr.SetStartTaskGroupCallback(id, func() { fmt.Printf("  start(%s)\n", name) })
		mgr.SetEndTaskGroupCallback(id, func() { fmt.Printf("  end(%s)\n", name) })
	}

	var g errgroup.Group

	// one worker pinned to the "io" named thread, the rest generic
	g.Go(runWorker(mgr, &scheduler.WorkerContext{CurrentThread: ioThread, CurrentGroup: task.GroupInvalid}))
	for i := 0; i < *workers; i++ {
		g.Go(runWorker(mgr, scheduler.NewWorkerContext()))
	}

	for f := 0; f < *frames; f++ {
		fmt.Printf("frame %d:\n", f)
		startFrame := mgr.CurrentFrameKey()
		var done int64

		submit := func(id task.GroupID, n int) {
			for i := 0; i < n; i++ {
				t := mgr.GetTask(id, func() { atomic.AddInt64(&done, 1) })
				t.Release()
			}
		}
		submit(initG, *initN)
		submit(updateG, *updateN)
		submit(renderG, *renderN)
		submit(ioG, *ioN)

		for mgr.CurrentFrameKey() == startFrame {
			time.Sleep(time.Millisecond)
		}
		fmt.Printf("  %d tasks ran\n", atomic.LoadInt64(&done))
	}

	mgr.RequestStop(func() { fmt.Println("stopped") }, true)
	if err := g.Wait(); err != nil {
		panic(err)
	}
}

// runWorker returns an errgroup.Group-compatible closure that drives
// ctx's goroutine until the manager asks threads to stop waiting for
// more work (see Manager.RequestStop).
func runWorker(mgr *scheduler.Manager, ctx *scheduler.WorkerContext) func() error {
	return func() error {
		for !mgr.ShouldThreadsExitWait() {
			if !mgr.RunATask(ctx, false, scheduler.ModeNormal) {
				mgr.WaitForATask(ctx)
			}
		}
		return nil
	}
}
