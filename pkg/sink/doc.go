// Package sink persists trace records as one append-only JSONL stream per run.
//
// Invariants:
// - The first line of every stream is the metadata record written by Open.
// - Each record is written with a single Write call and flushed before the
//   call returns, so concurrent readers never observe a partial line.
// - Runs are independent: each open run owns its own file handle and lock.
// - Close releases every run still open; closing an unknown run is a no-op.
//
// Usage:
//
//	s, err := sink.NewFileSink(sink.WithBaseDir(dir))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	path, err := s.Open(ctx, runID, meta)
//	err = s.Write(ctx, runID, record)
//	err = s.CloseRun(runID)
package sink
