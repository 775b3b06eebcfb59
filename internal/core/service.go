package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"morphicutil/pkg/domain"
)

// Service validates extracted workbooks and applies them to the catalogue.
type Service struct {
	catalogue       Catalogue
	engine          *RulesEngine
	journal         domain.Journal
	reconciler      Reconciler
	clock           Clock
	logger          Logger
	metrics         MetricsRecorder
	tracer          Tracer
	audit           AuditRecorder
	newRunID        func() string
	rollbackTimeout time.Duration
}

// NewService constructs a service that talks to cat.
func NewService(cat Catalogue, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.engine == nil {
		o.engine = NewDefaultRulesEngine(OrphanAdvisory)
	}
	if o.newRunID == nil {
		o.newRunID = func() string { return uuid.NewString() }
	}
	return &Service{
		catalogue:       cat,
		engine:          o.engine,
		journal:         o.journal,
		reconciler:      o.reconciler,
		clock:           o.clock,
		logger:          o.logger,
		metrics:         o.metrics,
		tracer:          o.tracer,
		audit:           o.audit,
		newRunID:        o.newRunID,
		rollbackTimeout: o.rollbackTimeout,
	}
}

// Request describes one submission run.
type Request struct {
	Action     domain.Action
	DatasetID  string
	Submission *domain.Submission
	// Tables receives identifiers as resources are created. Optional.
	Tables IdentifierSink
	// Source names the workbook for the journal.
	Source string
	// Extracted carries the violations found while reading the workbook.
	Extracted domain.Result
}

// Outcome summarises a run.
type Outcome struct {
	RunID      string
	Action     domain.Action
	DatasetID  string
	EnvelopeID string
	// Violations holds every non-blocking finding of the validation phase.
	Violations domain.Result
	Created    []domain.ResourceRecord
	Modified   []domain.ResourceRecord
	Rollback   *RollbackReport
	Deleted    *DeleteReport
	Artifact   string
	AuditErr   error
}

// ErrMissingDataset is returned when a request names no dataset.
var ErrMissingDataset = errors.New("dataset is mandatory: register the dataset and link it to a study before submitting metadata")

// Validate runs extraction findings and the rules engine. Linking the
// hierarchy happens here, so Submit relies on it.
func (s *Service) Validate(ctx context.Context, req Request) (domain.Result, error) {
	var res domain.Result
	res.Merge(req.Extracted)
	if req.Action == domain.ActionDelete {
		return res, nil
	}
	if req.Submission == nil {
		return res, fmt.Errorf("%s requires a workbook", req.Action)
	}
	ruled, err := s.engine.Evaluate(ctx, RuleInput{Action: req.Action, DatasetID: req.DatasetID, Submission: req.Submission})
	if err != nil {
		return res, err
	}
	res.Merge(ruled)
	return res, nil
}

// Submit validates the request and applies it. Blocking violations return a
// domain.ValidationError before any remote call. A failed ADD is rolled back
// and reported in Outcome.Rollback.
func (s *Service) Submit(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{Action: req.Action, DatasetID: strings.TrimSpace(req.DatasetID)}
	if _, err := domain.ParseAction(string(req.Action)); err != nil {
		return out, err
	}
	if out.DatasetID == "" {
		return out, ErrMissingDataset
	}
	req.DatasetID = out.DatasetID

	res, err := s.Validate(ctx, req)
	if err != nil {
		return out, err
	}
	if res.HasBlocking() {
		out.Violations = res
		s.logger.Warn("validation failed", "action", req.Action, "dataset", req.DatasetID, "blocking", len(res.Blocking()))
		return out, domain.ValidationError{Result: res}
	}
	out.Violations = res
	for _, v := range res.Violations {
		s.logger.Warn("validation finding", "rule", v.Rule, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
	}

	r := &run{
		svc:     s,
		id:      s.newRunID(),
		req:     req,
		started: s.clock.Now(),
	}
	out.RunID = r.id
	if err := r.begin(ctx); err != nil {
		return out, err
	}
	s.logger.Info("submission started", "run", r.id, "action", req.Action, "dataset", req.DatasetID)

	var runErr error
	switch req.Action {
	case domain.ActionAdd:
		runErr = r.add(ctx)
	case domain.ActionModify:
		runErr = r.modify(ctx)
	case domain.ActionDelete:
		report, err := s.DeleteDataset(ctx, req.DatasetID)
		out.Deleted = &report
		runErr = err
		if runErr == nil && len(report.Failed) > 0 {
			runErr = deleteFailures(report)
		}
	}
	out.EnvelopeID = r.envelopeID
	out.Created = r.created
	out.Modified = r.modified

	if runErr != nil {
		status := domain.RunStatusFailed
		switch {
		case req.Action == domain.ActionModify:
			report := s.Rollback(ctx, r.envelopeID, req.DatasetID, req.Action)
			out.Rollback = &report
		case req.Action == domain.ActionAdd && r.envelopeID != "":
			report := s.Rollback(ctx, r.envelopeID, req.DatasetID, req.Action)
			out.Rollback = &report
			status = domain.RunStatusRolledBack
		case req.Action == domain.ActionAdd:
			s.logger.Info("nothing to roll back", "run", r.id, "dataset", req.DatasetID)
		}
		r.finish(ctx, status, runErr.Error())
		s.logger.Error("submission failed", "run", r.id, "action", req.Action, "error", runErr)
		return out, asSubmissionError(runErr)
	}

	r.finish(ctx, domain.RunStatusSucceeded, "")
	s.logger.Info("submission succeeded", "run", r.id, "created", len(out.Created), "modified", len(out.Modified))
	if s.reconciler != nil && req.Tables != nil && req.Action != domain.ActionDelete {
		out.Artifact, out.AuditErr = s.reconciler.Reconcile(ctx, r.record(domain.RunStatusSucceeded), req.Tables)
		if out.AuditErr != nil {
			s.logger.Warn("audit workbook not saved", "run", r.id, "error", out.AuditErr)
		}
	}
	return out, nil
}

// asSubmissionError wraps err unless it already is a SubmissionError.
func asSubmissionError(err error) error {
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) {
		return err
	}
	return &domain.SubmissionError{Errors: []string{err.Error()}, Err: err}
}

// observe wraps one remote call with tracing, metrics and audit.
func (s *Service) observe(ctx context.Context, op string, action domain.Action, entity domain.EntityType, key string, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	id, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		Operation: op,
		Entity:    entity,
		Action:    action,
		EntityID:  key,
		RemoteID:  id,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Debug("remote call failed", "operation", op, "entity", entity, "key", key, "error", err)
	} else {
		s.logger.Debug("remote call", "operation", op, "entity", entity, "key", key, "id", id, "duration", duration)
	}
	s.audit.Record(ctx, entry)
	return id, err
}

// History lists journaled runs, oldest first.
func (s *Service) History(ctx context.Context) ([]domain.RunRecord, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.ListRuns(ctx)
}
