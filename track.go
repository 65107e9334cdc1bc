package mlflowbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/everydev1618/mlflowbox/tracking"
)

// Result keys inspected after a tracked call returns.
const (
	ResultParams  = "params"
	ResultMetrics = "metrics"
)

// Result is the conventional return shape of a tracked function:
//
//	return mlflowbox.Result{
//	    "params":  map[string]any{"lr": 0.01},
//	    "metrics": map[string]float64{"acc": 0.9},
//	}, nil
//
// Any map with string keys works the same way.
type Result = map[string]any

// Track runs fn inside a tracking run and returns fn's result unchanged.
//
// The run is named after fn unless WithRunName is given. If the result is a
// map carrying a "params" and/or "metrics" key, every pair under those keys
// is recorded; other results are not inspected.
//
// The run always ends: FINISHED when fn returns nil and everything was
// recorded, FAILED when fn errors, recording fails, or fn panics. A panic is
// re-raised after the run is closed.
func Track[T any](ctx context.Context, t *Tracker, fn func(context.Context) (T, error), opts ...TrackOption) (T, error) {
	opts = append([]TrackOption{WithRunName(FuncName(fn))}, opts...)
	return track(ctx, t, fn, opts)
}

// Wrap returns a function with the same shape as fn that tracks each call.
// The run name defaults to fn's name.
func Wrap[A, T any](t *Tracker, fn func(context.Context, A) (T, error), opts ...TrackOption) func(context.Context, A) (T, error) {
	opts = append([]TrackOption{WithRunName(FuncName(fn))}, opts...)
	return func(ctx context.Context, arg A) (T, error) {
		return track(ctx, t, func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		}, opts)
	}
}

func track[T any](ctx context.Context, t *Tracker, fn func(context.Context) (T, error), opts []TrackOption) (result T, err error) {
	run, err := t.StartRun(ctx, opts...)
	if err != nil {
		return result, err
	}

	status := tracking.RunStatusFailed
	defer func() {
		// Close on a context that survives cancellation of the call.
		closeCtx := context.WithoutCancel(ctx)
		if p := recover(); p != nil {
			run.setError(fmt.Errorf("panic: %v", p))
			run.End(closeCtx, tracking.RunStatusFailed)
			panic(p)
		}
		if endErr := run.End(closeCtx, status); endErr != nil {
			err = errors.Join(err, endErr)
		}
	}()

	result, err = fn(ctx)
	if err != nil {
		run.setError(err)
		return result, err
	}

	if err = recordResult(ctx, run, result); err != nil {
		run.setError(err)
		return result, err
	}

	status = tracking.RunStatusFinished
	return result, nil
}

// recordResult logs the params and metrics carried by a map result.
func recordResult(ctx context.Context, run *Run, result any) error {
	params, metrics, err := loggables(result)
	if err != nil {
		return err
	}

	for _, k := range sortedKeys(params) {
		if err := run.LogParam(ctx, k, params[k]); err != nil {
			return err
		}
	}
	for _, k := range sortedKeys(metrics) {
		v, ok := toFloat(metrics[k])
		if !ok {
			return fmt.Errorf("%w: %s=%v (%T)", ErrInvalidMetric, k, metrics[k], metrics[k])
		}
		if err := run.LogMetric(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// loggables extracts the params and metrics maps from a result. A result
// that is not a string-keyed map yields nothing.
func loggables(result any) (params, metrics map[string]any, err error) {
	outer, ok := stringMap(result)
	if !ok {
		return nil, nil, nil
	}

	if v, present := outer[ResultParams]; present {
		if params, ok = stringMap(v); !ok && v != nil {
			return nil, nil, fmt.Errorf("%w: %q is %T, want a map", ErrMalformedResult, ResultParams, v)
		}
	}
	if v, present := outer[ResultMetrics]; present {
		if metrics, ok = stringMap(v); !ok && v != nil {
			return nil, nil, fmt.Errorf("%w: %q is %T, want a map", ErrMalformedResult, ResultMetrics, v)
		}
	}
	return params, metrics, nil
}

func stringMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// toFloat converts numeric kinds to float64. Booleans count as 0 and 1.
func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1, true
		}
		return 0, true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FuncName returns the unqualified name of a function value, e.g.
// "trainModel" for main.trainModel.
func FuncName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
