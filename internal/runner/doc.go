// Package runner provides the execution engine for multimech.
//
// The runner package turns configured user groups into running load:
//   - A [Topology] expands every [GroupSpec] into one entry per process
//   - A [Group] waits for its start delay, then launches its workers spaced
//     evenly across the ramp-up window
//   - Each worker repeats its [Transaction] until the group's elapsed time
//     reaches the run time, emitting one [ResultRecord] per iteration
//   - Every record flows through a single [ResultChannel]
//
// # Basic Usage
//
//	topo, err := runner.BuildTopology(global, groups, loader)
//	if err != nil {
//		return err
//	}
//	r := runner.New(runner.Options{
//		Topology: topo,
//		Loader:   loader,
//		Results:  runner.NewResultChannel(0),
//	})
//	result := r.Run(ctx)
//
// # Error Containment
//
// A failing iteration (returned error or panic) is recorded in the
// record's Error field and the worker moves on to the next iteration. A
// worker whose transaction cannot be constructed leaves only its own slot
// empty. In-flight transactions are never cancelled; a worker overruns the
// run time by however long its last iteration takes.
//
// # Draining
//
// Run returns once every worker has stopped pushing. The caller then closes
// the [ResultChannel]; the consumer sees the end of the stream only after
// it has received every buffered record.
package runner
