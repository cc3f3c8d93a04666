package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"QRKot/internal/model"
	"QRKot/internal/repository"
	cachepkg "QRKot/pkg/cache"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore: хранилище в памяти, реализующее Store и repository.Tx.
// InTx делает снимок состояния и восстанавливает его при ошибке fn.
type memStore struct {
	projects  []model.CharityProject
	donations []model.Donation
	seq       int

	// failSaveDonation возвращается из SaveDonation, если задан
	failSaveDonation error
	// txErr подменяет результат InTx целиком
	txErr error

	txCount     int
	listedCalls int
}

func (m *memStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	m.txCount++
	if m.txErr != nil {
		return m.txErr
	}
	projects := append([]model.CharityProject(nil), m.projects...)
	donations := append([]model.Donation(nil), m.donations...)
	seq := m.seq
	if err := fn(m); err != nil {
		m.projects, m.donations, m.seq = projects, donations, seq
		return err
	}
	return nil
}

func (m *memStore) ListProjects(ctx context.Context) ([]model.CharityProject, error) {
	m.listedCalls++
	return append([]model.CharityProject{}, m.projects...), nil
}

func (m *memStore) ListDonations(ctx context.Context) ([]model.Donation, error) {
	return append([]model.Donation{}, m.donations...), nil
}

func (m *memStore) ListUserDonations(ctx context.Context, userID int) ([]model.Donation, error) {
	out := []model.Donation{}
	for _, d := range m.donations {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) ProjectsByCompletionRate(ctx context.Context) ([]model.ProjectCompletion, error) {
	out := []model.ProjectCompletion{}
	for _, p := range m.projects {
		if p.FullyInvested {
			out = append(out, model.ProjectCompletion{ID: p.ID, Name: p.Name, Description: p.Description,
				CompletionSeconds: int64(p.CloseDate.Sub(p.CreateDate).Seconds())})
		}
	}
	return out, nil
}

func (m *memStore) OpenProjects(ctx context.Context) ([]*model.CharityProject, error) {
	var out []*model.CharityProject
	for _, p := range m.projects {
		if !p.FullyInvested {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m *memStore) OpenDonations(ctx context.Context) ([]*model.Donation, error) {
	var out []*model.Donation
	for _, d := range m.donations {
		if !d.FullyInvested {
			d := d
			out = append(out, &d)
		}
	}
	return out, nil
}

func (m *memStore) GetProject(ctx context.Context, id int) (*model.CharityProject, error) {
	for _, p := range m.projects {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ProjectNameTaken(ctx context.Context, name string, excludeID int) (bool, error) {
	for _, p := range m.projects {
		if p.Name == name && p.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateProject(ctx context.Context, p *model.CharityProject) error {
	m.seq++
	p.ID = m.seq
	m.projects = append(m.projects, *p)
	return nil
}

func (m *memStore) CreateDonation(ctx context.Context, d *model.Donation) error {
	m.seq++
	d.ID = m.seq
	m.donations = append(m.donations, *d)
	return nil
}

func (m *memStore) SaveProject(ctx context.Context, p *model.CharityProject) error {
	for i := range m.projects {
		if m.projects[i].ID == p.ID {
			m.projects[i] = *p
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) SaveDonation(ctx context.Context, d *model.Donation) error {
	if m.failSaveDonation != nil {
		return m.failSaveDonation
	}
	for i := range m.donations {
		if m.donations[i].ID == d.ID {
			m.donations[i] = *d
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) DeleteProject(ctx context.Context, id int) error {
	for i := range m.projects {
		if m.projects[i].ID == id {
			m.projects = append(m.projects[:i], m.projects[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) project(id int) model.CharityProject {
	p, err := m.GetProject(context.Background(), id)
	if err != nil {
		panic(fmt.Sprintf("project %d not found", id))
	}
	return *p
}

func (m *memStore) donation(id int) model.Donation {
	for _, d := range m.donations {
		if d.ID == id {
			return d
		}
	}
	panic(fmt.Sprintf("donation %d not found", id))
}

// mockCache: кеш в памяти с настраиваемыми ошибками
type mockCache struct {
	data        map[string][]byte
	invalidated []string
	invalErr    error
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, cachepkg.ErrCacheMiss
	}
	return v, nil
}

func (m *mockCache) Invalidate(ctx context.Context, keys ...string) error {
	m.invalidated = append(m.invalidated, keys...)
	for _, k := range keys {
		delete(m.data, k)
	}
	return m.invalErr
}

// mockPublisher запоминает опубликованные события
type mockPublisher struct {
	events []model.InvestmentEvent
	err    error
}

func (m *mockPublisher) PublishJSON(v interface{}) error {
	if m.err != nil {
		return m.err
	}
	e, ok := v.(model.InvestmentEvent)
	if !ok {
		return errors.New("unexpected message type")
	}
	m.events = append(m.events, e)
	return nil
}

type fixture struct {
	store     *memStore
	cache     *mockCache
	pub       *mockPublisher
	logs      *bytes.Buffer
	projects  *ProjectService
	donations *DonationService
}

func newFixture() *fixture {
	f := &fixture{store: &memStore{}, cache: &mockCache{}, pub: &mockPublisher{}, logs: &bytes.Buffer{}}
	log := zerolog.New(f.logs)
	f.projects = NewProjectService(f.store, f.cache, f.pub, log)
	f.donations = NewDonationService(f.store, f.cache, f.pub, log)
	f.setClock(func() time.Time { return testNow })
	return f
}

func (f *fixture) setClock(clock func() time.Time) {
	f.projects.now = clock
	f.donations.now = clock
}

// tickingClock сдвигается на step при каждом обращении
func tickingClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}
