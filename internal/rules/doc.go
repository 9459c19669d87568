// Package rules decides whether a pipeline or job runs for a given trigger.
//
// Conditions are HCL expressions evaluated against an immutable trigger
// Context (branch, trigger source, tag, changed-file set, variables), so no
// ambient global state leaks into the decision. Evaluation over an ordered
// rule sequence is first-match-wins; if nothing matches and no trailing
// default exists the decision is Skip, never Run.
package rules
