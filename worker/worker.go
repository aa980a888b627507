package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/baldanca/log-puller/archive"
	"github.com/baldanca/log-puller/catalog"
	"github.com/baldanca/log-puller/connector"
)

// Message is one inbound batch item as delivered by the transport.
type Message struct {
	ID   string
	Body string
}

// Request is the payload of one pull request. Time is an opaque transport
// timestamp; the worker never interprets it.
type Request struct {
	LogSourceName string `json:"log_source_name"`
	Time          string `json:"time"`
}

// Resolver maps a source name to its pull context. Implemented by
// catalog.Catalog.
type Resolver interface {
	Resolve(sourceName string) (*catalog.PullContext, bool)
}

// Pullers maps a connector type to its puller. Implemented by
// connector.Registry.
type Pullers interface {
	For(typ string) (connector.Puller, bool)
}

// Archiver writes pulled bytes durably. Implemented by archive.Writer.
type Archiver interface {
	Archive(ctx context.Context, sourceName string, data []byte) (archive.Result, error)
}

// Worker turns a batch of independent pull requests into concurrent
// pull+archive operations and reduces the outcomes into a redelivery report.
// All collaborators are read-only shared state; the failure set is the only
// mutable state crossing goroutines.
type Worker struct {
	resolver Resolver
	pullers  Pullers
	archiver Archiver
	log      *zap.Logger
}

func New(resolver Resolver, pullers Pullers, archiver Archiver, log *zap.Logger) *Worker {
	if resolver == nil {
		panic("resolver is required")
	}
	if pullers == nil {
		panic("pullers is required")
	}
	if archiver == nil {
		panic("archiver is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		resolver: resolver,
		pullers:  pullers,
		archiver: archiver,
		log:      log,
	}
}

// task pairs a message id with everything needed to pull its source. The id
// travels with the task from dispatch to outcome; identity is never
// reconstructed from completion order.
type task struct {
	id     string
	source string
	pc     *catalog.PullContext
	puller connector.Puller
}

// ProcessBatch processes every message independently and returns the report
// of ids to redeliver. A failing item never aborts or delays its siblings,
// and an empty batch performs no I/O.
func (w *Worker) ProcessBatch(ctx context.Context, msgs []Message) Report {
	if len(msgs) == 0 {
		return Report{}
	}

	var failed failures

	tasks := make([]task, 0, len(msgs))
	for _, m := range msgs {
		var req Request
		if err := json.Unmarshal([]byte(m.Body), &req); err != nil || req.LogSourceName == "" || req.Time == "" {
			if err == nil {
				err = fmt.Errorf("missing log_source_name or time")
			}
			w.log.Error("malformed pull request",
				zap.String("message_id", m.ID), zap.Error(err))
			// A message without an id cannot be redelivered; log is all we have.
			if m.ID != "" {
				failed.add(m.ID)
			}
			continue
		}

		pc, ok := w.resolver.Resolve(req.LogSourceName)
		if !ok {
			w.log.Error("unknown log source",
				zap.String("message_id", m.ID), zap.String("log_source", req.LogSourceName))
			failed.add(m.ID)
			continue
		}

		puller, ok := w.pullers.For(pc.Type)
		if !ok {
			w.log.Error("no puller for connector type",
				zap.String("message_id", m.ID),
				zap.String("log_source", req.LogSourceName),
				zap.String("type", pc.Type))
			failed.add(m.ID)
			continue
		}

		tasks = append(tasks, task{id: m.ID, source: req.LogSourceName, pc: pc, puller: puller})
	}

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, t := range tasks {
		go func(t task) {
			defer wg.Done()
			if err := w.pullOne(ctx, t); err != nil {
				w.log.Error("pull failed",
					zap.String("message_id", t.id),
					zap.String("log_source", t.source),
					zap.Error(err))
				failed.add(t.id)
			}
		}(t)
	}
	wg.Wait()

	report := failed.report()
	if !report.Empty() {
		w.log.Error("returning failed batch items for redelivery",
			zap.Int("failed", len(report.FailedIDs)), zap.Int("batch", len(msgs)))
	}
	return report
}

func (w *Worker) pullOne(ctx context.Context, t task) error {
	data, err := t.puller.Pull(ctx, t.pc)
	if err != nil {
		return fmt.Errorf("pull %s: %w", t.source, err)
	}

	res, err := w.archiver.Archive(ctx, t.source, data)
	if err != nil {
		return fmt.Errorf("archive %s: %w", t.source, err)
	}

	if res.Archived {
		w.log.Info("archived log data",
			zap.String("log_source", t.source),
			zap.String("key", res.Key),
			zap.Int64("bytes", res.Bytes))
	} else {
		w.log.Info("no new data", zap.String("log_source", t.source))
	}
	return nil
}
