// Package progressengine provides the animation scheduling and progress state
// engine behind progress indicators.
//
// One FrameScheduler multiplexes every running animation onto a single frame
// loop. Interpolators ease a ValueState towards a target on that loop, and
// renderers read the value and percentage back. Around this core the module
// offers a trend predictor (package trend), a snapshot recorder with playback
// (package snapshot) and multi-instance synchronization (package coord).
//
// # Quick Start
//
// Initialize the global scheduler at application startup:
//
//	progressengine.InitGlobalScheduler(nil) // 60 Hz ticker
//	defer progressengine.ShutdownGlobalScheduler()
//
// Animate a value:
//
//	state, _ := progressengine.NewValueState(0, 100, 0)
//	interp := progressengine.NewInterpolator("download")
//	done := interp.Start(progressengine.InterpolationOptions{
//		From:     0,
//		To:       80,
//		Duration: 300 * time.Millisecond,
//		Easing:   "easeOutCubic",
//		Target:   state,
//	})
//	done.Wait(ctx)
//
// # Engine
//
// Engine wires a scheduler, a primary value, a predictor, a recorder and a
// coordinator from a config.Config, plus optional persistence and Prometheus
// metrics:
//
//	cfg, _ := config.Load("progressd.yaml")
//	engine, err := progressengine.New(ctx, cfg, progressengine.Options{})
//	if err != nil {
//		return err
//	}
//	defer engine.Close(ctx)
//	engine.Start(ctx)
//	engine.SetValue(42, true)
//
// # Thread Safety
//
// Ticks are serialized: frame callbacks never run concurrently with each
// other, and every task of a tick sees the same timestamp. Callbacks may
// register, unregister or pause tasks without deadlocking.
package progressengine
