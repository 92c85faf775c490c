// Package orchestrator runs tasks with a team of specialized agents.
//
// A run plans the task into sub-goals, then proceeds in rounds. In each
// round the Manager looks at a snapshot of the run and decides to dispatch
// sub-goals to agents, synthesize the final answer, handle a stall, reset the
// plan, or fail. Agent output is appended to the run's shared context, and
// the StallController tracks rounds without progress against the limits in
// the policy package.
//
// The state machine is:
//
//	PLANNING -> DISPATCHING <-> AWAITING_AGENT -> EVALUATING
//	EVALUATING -> DISPATCHING | STALLED | RESETTING | COMPLETE
//	STALLED -> DISPATCHING | RESETTING
//	RESETTING -> PLANNING
//
// plus DISPATCHING -> EVALUATING for cycles that decide something other than
// a dispatch right after planning. Any non-terminal state may move to FAILED.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//		Registry: registry,
//		Planner:  planner.Split{},
//	}, orchestrator.WithPolicy(policy.Default()))
//	if err != nil {
//		return err
//	}
//	run := orch.Start(ctx, models.Task{Statement: "Research X. Write code for Y"})
//	for ev := range run.Events() {
//		fmt.Println(ev.Type, ev.State)
//	}
//	result, err := run.Wait()
package orchestrator
