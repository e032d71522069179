package staticroutes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snadboy/revpd/internal/domain"
)

type fakeFile struct {
	mu        sync.Mutex
	records   []domain.StaticRecord
	saveErr   error
	onChange  func()
	saveCalls int
}

func (f *fakeFile) Load() ([]domain.StaticRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StaticRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeFile) Save(records []domain.StaticRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records = records
	return nil
}

func (f *fakeFile) Watch(onChange func()) (func() error, error) {
	f.onChange = onChange
	return func() error { return nil }, nil
}

func (f *fakeFile) trigger() {
	f.onChange()
}

type fakeBus struct {
	mu      sync.Mutex
	events  []domain.EventType
	payload []any
}

func (b *fakeBus) Publish(eventType domain.EventType, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	b.payload = append(b.payload, payload)
	return nil
}

func record(domainKey string) domain.StaticRecord {
	return domain.StaticRecord{Domain: domainKey, BackendURL: "http://10.0.0.5:9000"}
}

func TestCreateThenListRoundTrips(t *testing.T) {
	file := &fakeFile{}
	bus := &fakeBus{}
	svc, err := NewService(file, bus)
	require.NoError(t, err)

	require.NoError(t, svc.Create(context.Background(), record("app.example.com")))

	records, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "app.example.com", records[0].Domain)
	assert.NotEmpty(t, records[0].ID)

	require.Len(t, bus.events, 1)
	assert.Equal(t, domain.EventStaticChanged, bus.events[0])
}

func TestCreateDuplicateDomainRejected(t *testing.T) {
	file := &fakeFile{}
	svc, err := NewService(file, &fakeBus{})
	require.NoError(t, err)

	require.NoError(t, svc.Create(context.Background(), record("app.example.com")))
	err = svc.Create(context.Background(), record("app.example.com"))
	assert.ErrorIs(t, err, domain.ErrRecordExists)
}

func TestUpdateUnknownDomainReturnsNotFound(t *testing.T) {
	svc, err := NewService(&fakeFile{}, &fakeBus{})
	require.NoError(t, err)

	err = svc.Update(context.Background(), "missing.example.com", record("missing.example.com"))
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestDeleteRemovesRecord(t *testing.T) {
	file := &fakeFile{}
	svc, err := NewService(file, &fakeBus{})
	require.NoError(t, err)

	require.NoError(t, svc.Create(context.Background(), record("app.example.com")))
	require.NoError(t, svc.Delete(context.Background(), "app.example.com"))

	records, _ := svc.List(context.Background())
	assert.Empty(t, records)
}

func TestSaveFailureRollsBackInMemoryState(t *testing.T) {
	file := &fakeFile{saveErr: errors.New("disk full")}
	svc, err := NewService(file, &fakeBus{})
	require.NoError(t, err)

	err = svc.Create(context.Background(), record("app.example.com"))
	require.Error(t, err)

	records, _ := svc.List(context.Background())
	assert.Empty(t, records)

	info := svc.Info(context.Background())
	assert.Equal(t, 0, info.RecordCount)
}

func TestExternalChangeReloadsAndPublishes(t *testing.T) {
	file := &fakeFile{}
	bus := &fakeBus{}
	svc, err := NewService(file, bus)
	require.NoError(t, err)

	file.mu.Lock()
	file.records = []domain.StaticRecord{record("external.example.com")}
	file.mu.Unlock()
	file.trigger()

	records, _ := svc.List(context.Background())
	require.Len(t, records, 1)
	assert.Equal(t, "external.example.com", records[0].Domain)
	assert.Len(t, bus.events, 1)
}
