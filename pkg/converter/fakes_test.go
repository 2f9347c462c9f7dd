package converter

import (
	"context"
	"sync"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

type fakeEntity string

func (e fakeEntity) ID() string { return string(e) }

// fakeConverter reads "username" and "password" columns. Rows whose
// username is in errOn fail in ProcessRow, rows in rejectOn are refused by
// Store and rows without a password are skipped.
type fakeConverter struct {
	name     string
	main     string
	hasMain  bool
	extra    map[string]string
	depth    int
	errOn    map[string]bool
	rejectOn map[string]bool
	initErr  error
	onRow    func(id string)

	mu       sync.Mutex
	stored   []string
	torndown bool
	props    Properties
}

func (f *fakeConverter) Name() string { return f.name }

func (f *fakeConverter) Initialise(props Properties) error {
	f.props = props
	return f.initErr
}

func (f *fakeConverter) MainQuery() (string, bool) { return f.main, f.hasMain }

func (f *fakeConverter) AdditionalQueries() map[string]string { return f.extra }

func (f *fakeConverter) MaxNestingDepth() int { return f.depth }

func (f *fakeConverter) ProcessRow(_ context.Context, row Row) (Result, error) {
	name, _ := row.String("username")
	if f.onRow != nil {
		f.onRow(name)
	}
	if f.errOn[name] {
		return Skipped(name, ""), errors.New(errors.ErrorTypeData, "transform exploded")
	}
	if _, ok := row.String("password"); !ok {
		return Skipped(name, "missing password"), nil
	}
	return Converted(fakeEntity(name)), nil
}

func (f *fakeConverter) Store(_ context.Context, e Entity) (bool, error) {
	if f.rejectOn[e.ID()] {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, e.ID())
	return true, nil
}

func (f *fakeConverter) Teardown() error {
	f.torndown = true
	return nil
}

// recordingPool records registered statements and enforces a pool size.
type recordingPool struct {
	Querier
	size       int
	registered map[string]string
	failOn     string
}

func newRecordingPool(size int) *recordingPool {
	return &recordingPool{size: size, registered: map[string]string{}}
}

func (p *recordingPool) RegisterStatement(_ context.Context, name, query string) error {
	if name == p.failOn {
		return errors.Newf(errors.ErrorTypeQuery, "cannot prepare %s", name)
	}
	p.registered[name] = query
	return nil
}

func (p *recordingPool) CheckNesting(depth int) error {
	if depth >= p.size {
		return errors.Newf(errors.ErrorTypeConfig, "pool size %d too small for depth %d", p.size, depth)
	}
	return nil
}
