package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"morphicutil/internal/catalogue"
	"morphicutil/pkg/domain"
)

// fakeCatalogue records every call and hands out sequential identifiers.
// fail is consulted before each call with its description.
type fakeCatalogue struct {
	mu       sync.Mutex
	calls    []string
	seq      map[string]int
	datasets map[string]*catalogue.Dataset
	bodies   map[string]any
	fail     func(call string) error
}

func newFakeCatalogue() *fakeCatalogue {
	return &fakeCatalogue{
		seq:      make(map[string]int),
		datasets: make(map[string]*catalogue.Dataset),
		bodies:   make(map[string]any),
	}
}

func (f *fakeCatalogue) call(desc string) error {
	f.mu.Lock()
	f.calls = append(f.calls, desc)
	hook := f.fail
	f.mu.Unlock()
	if hook != nil {
		return hook(desc)
	}
	return nil
}

func (f *fakeCatalogue) nextID(collection string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[collection]++
	prefix := map[string]string{
		catalogue.CollectionBiomaterials: "bio",
		catalogue.CollectionProcesses:    "proc",
		catalogue.CollectionFiles:        "file",
		catalogue.CollectionEnvelopes:    "env",
	}[collection]
	return fmt.Sprintf("%s-%d", prefix, f.seq[collection])
}

func (f *fakeCatalogue) CreateEnvelope(context.Context) (string, error) {
	if err := f.call("create envelope"); err != nil {
		return "", err
	}
	return f.nextID(catalogue.CollectionEnvelopes), nil
}

func (f *fakeCatalogue) CreateInEnvelope(_ context.Context, envelopeID, collection string, body any) (string, error) {
	if err := f.call("create " + collection + " in " + envelopeID); err != nil {
		return "", err
	}
	id := f.nextID(collection)
	f.mu.Lock()
	f.bodies[id] = body
	f.mu.Unlock()
	return id, nil
}

func (f *fakeCatalogue) CreateChild(_ context.Context, parentID string, body any) (string, error) {
	if err := f.call("create child of " + parentID); err != nil {
		return "", err
	}
	id := f.nextID(catalogue.CollectionBiomaterials)
	f.mu.Lock()
	f.bodies[id] = body
	f.mu.Unlock()
	return id, nil
}

func (f *fakeCatalogue) Link(_ context.Context, from catalogue.Ref, relation string, target catalogue.Ref) error {
	return f.call(fmt.Sprintf("link %s %s %s", from, relation, target))
}

func (f *fakeCatalogue) LinkToDataset(_ context.Context, datasetID string, target catalogue.Ref) error {
	if err := f.call(fmt.Sprintf("dataset %s add %s", datasetID, target)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ds := f.dataset(datasetID)
	switch target.Collection {
	case catalogue.CollectionBiomaterials:
		ds.Biomaterials = append(ds.Biomaterials, target.ID)
	case catalogue.CollectionProcesses:
		ds.Processes = append(ds.Processes, target.ID)
	case catalogue.CollectionFiles:
		ds.Files = append(ds.Files, target.ID)
	}
	return nil
}

func (f *fakeCatalogue) LinkDatasetToStudy(_ context.Context, studyID, datasetID string) error {
	return f.call(fmt.Sprintf("study %s add dataset %s", studyID, datasetID))
}

func (f *fakeCatalogue) Patch(_ context.Context, ref catalogue.Ref, body any) error {
	if err := f.call("patch " + ref.String()); err != nil {
		return err
	}
	f.mu.Lock()
	f.bodies[ref.ID] = body
	f.mu.Unlock()
	return nil
}

func (f *fakeCatalogue) GetDataset(_ context.Context, datasetID string) (catalogue.Dataset, error) {
	if err := f.call("get dataset " + datasetID); err != nil {
		return catalogue.Dataset{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.dataset(datasetID), nil
}

func (f *fakeCatalogue) Delete(_ context.Context, ref catalogue.Ref, deleteLinked bool) error {
	return f.call(fmt.Sprintf("delete %s linked=%t", ref, deleteLinked))
}

func (f *fakeCatalogue) DeleteEnvelope(_ context.Context, envelopeID string) error {
	return f.call("delete envelope " + envelopeID)
}

// dataset must be called with mu held.
func (f *fakeCatalogue) dataset(id string) *catalogue.Dataset {
	ds, ok := f.datasets[id]
	if !ok {
		ds = &catalogue.Dataset{ID: id}
		f.datasets[id] = ds
	}
	return ds
}

func (f *fakeCatalogue) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeCatalogue) index(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (f *fakeCatalogue) body(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := f.bodies[id].(map[string]any)
	return b
}

var errRemote = errors.New("remote exploded")

// failOn returns a hook failing every call that starts with prefix.
func failOn(prefix string) func(string) error {
	return func(call string) error {
		if strings.HasPrefix(call, prefix) {
			return &catalogue.StatusError{Method: "PUT", URL: call, Code: 500}
		}
		return nil
	}
}

// captureSink records identifier write-backs.
type captureSink struct {
	ids map[string]string
}

func (c *captureSink) SetIdentifier(entity domain.EntityType, key, id string) bool {
	if c.ids == nil {
		c.ids = make(map[string]string)
	}
	c.ids[string(entity)+"/"+key] = id
	return true
}

type captureReconciler struct {
	runs     []domain.RunRecord
	artifact string
	err      error
}

func (c *captureReconciler) Reconcile(_ context.Context, run domain.RunRecord, _ IdentifierSink) (string, error) {
	c.runs = append(c.runs, run)
	return c.artifact, c.err
}

type logLine struct {
	level string
	msg   string
}

type captureLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (c *captureLogger) add(level, msg string) {
	c.mu.Lock()
	c.lines = append(c.lines, logLine{level, msg})
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("debug", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("info", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("warn", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("error", msg) }

func (c *captureLogger) has(level, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if l.level == level && l.msg == msg {
			return true
		}
	}
	return false
}

func fixedClock() Clock {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return ClockFunc(func() time.Time { return at })
}

// sampleSubmission builds a one-branch hierarchy: parent P1, alteration
// ALT1, cell line CL1, product DCL1, library LP1 and file r1.fastq.gz.
func sampleSubmission() *domain.Submission {
	return &domain.Submission{
		ParentCellLine:        &domain.ParentCellLine{Name: "P1"},
		ExpressionAlterations: []*domain.ExpressionAlteration{{AlterationID: "ALT1", Line: 4}},
		CellLines:             []*domain.CellLine{{BiomaterialID: "CL1", ExpressionAlterationID: "ALT1", Line: 4}},
		Products:              []*domain.DifferentiatedCellLine{{BiomaterialID: "DCL1", InputBiomaterialID: "CL1", Line: 4}},
		LibraryPreparations:   []*domain.LibraryPreparation{{BiomaterialID: "LP1", DifferentiatedBiomaterialID: "DCL1", Line: 4}},
		SequencingFiles:       []*domain.SequencingFile{{FileName: "r1.fastq.gz", LibraryPreparationID: "LP1", Line: 4}},
	}
}

func newTestService(t *testing.T, cat Catalogue, opts ...ServiceOption) *Service {
	t.Helper()
	seq := 0
	base := []ServiceOption{
		WithClock(fixedClock()),
		WithRunIDGenerator(func() string {
			seq++
			return fmt.Sprintf("run-%d", seq)
		}),
	}
	return NewService(cat, append(base, opts...)...)
}
