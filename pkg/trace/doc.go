// Package trace records sessions of structured, redacted spans.
//
// A Trace moves between two states. Begin takes it from idle to active and
// opens a stream on the sink; End writes the summary record, closes the
// stream and returns it to idle whatever the session body did.
//
// Invariants:
// - At most one session is active per Trace; Begin while active fails.
// - Every span field passes through the redactor before reaching the sink.
// - A completed session with N spans yields N+2 records: metadata, the
//   spans in call order, and a summary whose span_count is N.
// - A failing session gets one extra session.error span and the caller
//   still observes the original error.
// - Instrumented calls emit exactly one span and never change the result
//   or error of the wrapped call.
//
// Usage:
//
//	t, err := trace.New("demo-app", trace.WithEnv("dev"))
//	if err != nil {
//		return err
//	}
//	defer t.Close()
//
//	err = t.Run(ctx, func(ctx context.Context) error {
//		return t.AddSpan("llm.call", trace.F("model", "gpt-4"), trace.F("tokens", 100))
//	}, trace.F("scenario", "demo"))
package trace
