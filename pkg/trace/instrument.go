package trace

import (
	"errors"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/harun/valiqor/pkg/value"
)

// Instrument runs fn and records one span with its duration and outcome.
// fn's error is returned unchanged, joined with the recording error if the
// span could not be written.
func (t *Trace) Instrument(name string, fn func() error) error {
	_, err := do(t, name, funcName(fn), func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do runs fn and records one span named name with fields function,
// duration_ms, status and error. A panic in fn is recorded and re-raised.
// When fn succeeds but the span cannot be recorded, for example outside a
// session, the recording error is returned along with fn's result.
func Do[T any](t *Trace, name string, fn func() (T, error)) (T, error) {
	return do(t, name, funcName(fn), fn)
}

func do[T any](t *Trace, name, fnName string, fn func() (T, error)) (T, error) {
	if fnName == "" {
		fnName = name
	}

	start := t.clock.Now()
	finished := false
	defer func() {
		if finished {
			return
		}
		if r := recover(); r != nil {
			_ = t.recordCall(name, fnName, t.clock.Since(start), &PanicError{Value: r})
			panic(r)
		}
	}()

	v, err := fn()
	finished = true

	if spanErr := t.recordCall(name, fnName, t.clock.Since(start), err); spanErr != nil {
		return v, errors.Join(err, spanErr)
	}
	return v, err
}

// Wrap returns fn instrumented with Do under name
func Wrap[A, T any](t *Trace, name string, fn func(A) (T, error)) func(A) (T, error) {
	fnName := funcName(fn)
	return func(arg A) (T, error) {
		return do(t, name, fnName, func() (T, error) {
			return fn(arg)
		})
	}
}

func (t *Trace) recordCall(name, function string, elapsed time.Duration, callErr error) error {
	fields := value.NewMap()
	fields.Set("function", value.String(function))
	fields.Set(KeyDurationMs, value.Float(roundMs(elapsed)))
	if callErr != nil {
		fields.Set("status", value.String("error"))
		fields.Set("error", value.String(callErr.Error()))
	} else {
		fields.Set("status", value.String("ok"))
		fields.Set("error", value.Null())
	}
	return t.AddSpanValues(name, fields)
}

// funcName returns the short name of fn, e.g. "pipeline.retrieve"
func funcName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return ""
	}
	full := f.Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}
