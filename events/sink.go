package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/safe-forge/interfaces"
)

// LogSink writes each event to the structured log.
type LogSink struct {
	log   *slog.Logger
	level slog.Level
}

var _ interfaces.EventSink = (*LogSink)(nil)

func NewLogSink(log *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{log: log, level: level}
}

func (s *LogSink) Publish(ctx context.Context, event interfaces.GenerationEvent) error {
	s.log.Log(ctx, s.level, "Generation event",
		slog.Uint64("eventID", event.EventID),
		slog.String("template", event.TemplateName.String()),
		slog.String("caller", event.Caller.String()),
		slog.String("codeID", event.CodeID.Short()),
		slog.Int("dataSize", len(event.DeploymentData)),
		slog.String("digest", event.Digest.Hex()))
	return nil
}

func (s *LogSink) Name() string {
	return "log"
}

// MultiSink publishes to every sink in order. All sinks are attempted even
// if an earlier one fails.
type MultiSink struct {
	sinks []interfaces.EventSink
}

var _ interfaces.EventSink = (*MultiSink)(nil)

func NewMultiSink(sinks ...interfaces.EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Publish(ctx context.Context, event interfaces.GenerationEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Name() string {
	names := make([]string, 0, len(m.sinks))
	for _, sink := range m.sinks {
		names = append(names, sink.Name())
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// Len returns the number of wrapped sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}
