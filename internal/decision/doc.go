// Package decision chooses the next UI action for an intent and decides
// whether and when a failed action should be retried.
//
// The core types are:
//
//   - [Engine]: scores candidate actions, computes timing and retry policy,
//     and learns per-(intent, context) success rates
//   - [Classifier]: maps free-text intent onto an action type; the default
//     [GlobClassifier] matches keyword globs
//   - [PatternStore]: persists learned patterns ([MemoryPatternStore] and
//     [SQLitePatternStore])
//
// # Usage
//
//	engine := decision.NewEngine(
//	    decision.WithMaxRetries(3),
//	    decision.WithBaseDelay(time.Second),
//	)
//	d := engine.DecideAction("click login button", env, elements)
//	time.Sleep(engine.DecideTiming(d.Action, env))
//	if err := run(d); err != nil && engine.ShouldRetry(d, 1, err) {
//	    // retry
//	}
//	engine.RecordOutcome(err == nil, err)
//
// DecideAction never fails: with no candidates it returns a WAIT decision
// with confidence 0.1 and high risk, which ShouldRetry always refuses.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package decision
