// Package metrics emits standardized run lifecycle and item metrics.
package metrics

import (
	"time"

	obserrors "github.com/matchops/leadsweep/internal/observability/errors"
	"github.com/matchops/leadsweep/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// RunMetric captures details about a run lifecycle event for metric emission.
type RunMetric struct {
	RunType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitRunLifecycle emits run state transition metrics.
func EmitRunLifecycle(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"run_type":   in.RunType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("run.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}
}

// ItemMetric captures details about one processed item.
type ItemMetric struct {
	RunType  string
	Outcome  string
	Duration time.Duration
}

// EmitItemProcessed emits per-item outcome and latency metrics.
func EmitItemProcessed(sink statsd.Sink, in ItemMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"run_type": in.RunType,
		"outcome":  in.Outcome,
	}
	sink.Count("run.item", 1, tags)
	if in.Duration > 0 {
		sink.Timing("run.item_duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
