// Package tui provides the terminal viewer for magentic runs.
//
// The viewer follows a single run's event stream and shows the current
// state and round, the active plan, and a short activity log of decisions
// and agent contributions. Gaps in the event sequence are counted so a
// lagging viewer can tell that progress events were dropped.
//
// Usage:
//
//	run := orch.Start(ctx, task)
//	program, app := tui.NewRunProgram(task.Statement, maxRounds, run.Events(), tui.Controls{
//	    Cancel: run.Cancel,
//	    Pause:  pause.Pause,
//	    Resume: pause.Resume,
//	})
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
//	result := app.Result()
//
// Pressing p pauses or resumes the run between rounds; q cancels it.
package tui
