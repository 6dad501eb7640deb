package krm

import (
	"context"
	"strings"

	"github.com/gogpu/wgpu/hal"
)

// KickFlags select what a kick waits for and how it ends the scene.
type KickFlags uint32

const (
	// KickWaitForTA asks the kicker to let tiling finish before returning.
	KickWaitForTA KickFlags = 1 << iota
	// KickWaitFor3D asks the kicker to let pixel processing finish before returning.
	KickWaitFor3D
	// KickLastInScene marks the kick as the final one of the scene.
	KickLastInScene
	// KickDiscardScene drops the scene instead of rendering it.
	KickDiscardScene
)

// String returns the set flags joined by "|".
func (f KickFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for _, p := range []struct {
		flag KickFlags
		name string
	}{
		{KickWaitForTA, "WaitForTA"},
		{KickWaitFor3D, "WaitFor3D"},
		{KickLastInScene, "LastInScene"},
		{KickDiscardScene, "DiscardScene"},
	} {
		if f&p.flag != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// Kicker submits hardware work and reports its completion.
//
// Kick must be idempotent when there is no outstanding work. Submission
// indices are monotonically increasing and nonzero.
type Kicker interface {
	// Kick submits the work built so far and returns its submission index.
	Kick(ctx context.Context, flags KickFlags) (uint64, error)

	// Completed returns the highest submission index known to be finished.
	Completed() uint64
}

// QueueKicker submits kicks on a HAL queue.
type QueueKicker struct {
	Queue hal.Queue
}

// Kick submits an empty command batch; the queue orders it after all work
// recorded before it.
func (k QueueKicker) Kick(ctx context.Context, _ KickFlags) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return k.Queue.Submit(nil)
}

// Completed returns the highest completed submission index of the queue.
func (k QueueKicker) Completed() uint64 {
	return k.Queue.PollCompleted()
}
