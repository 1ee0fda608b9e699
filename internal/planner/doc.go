// Package planner turns matched rules into an execution plan.
//
// Each rule that selected at least one staged file becomes a Chain. Each command
// template of the rule becomes a Task inside that chain, in declared order. How a
// template receives its files is decided once, here, and recorded as the task's
// Mode:
//
//   - ModePerFile: the template contains the word {file}; one invocation per path.
//   - ModeBatch: paths are spliced in at {files}, or appended to the argv.
//   - ModeFixed: the program never takes file arguments (make, just, task, or a
//     template written with a leading "!"); it runs exactly once.
//
// Batch invocations are split so the file arguments of one invocation stay under
// Options.MaxArgLength. The executor runs the invocations of a task in order.
package planner
