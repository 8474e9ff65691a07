package player

import (
	"context"
	"time"
)

// WatermarkSink receives refreshed overlay text from the run loop, e.g. a
// terminal UI or a bridge into an embedded web view.
type WatermarkSink func(text string)

// Run drives a mounted controller in real time: a one-second media tick
// for cadence checks, the five-second wall-clock watermark refresh, and a
// visibility feed from the host surface. It returns when ctx is cancelled
// or the controller reaches a terminal state.
func Run(ctx context.Context, c *Controller, visibility <-chan bool, sink WatermarkSink) {
	mediaTick := time.NewTicker(1 * time.Second)
	defer mediaTick.Stop()
	watermarkTick := time.NewTicker(watermarkRefresh)
	defer watermarkTick.Stop()

	if sink != nil {
		sink(c.WatermarkText())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case visible, ok := <-visibility:
			if !ok {
				visibility = nil
				continue
			}
			c.SetVisibility(visible)
		case <-mediaTick.C:
			c.Tick()
			switch c.State() {
			case StateEnded, StateErrored:
				return
			}
		case <-watermarkTick.C:
			if sink != nil {
				sink(c.WatermarkText())
			}
		}
	}
}
