package dummydb

import (
	"sort"

	"github.com/fancysnake/ludamus/core/event"
)

type eventRepository struct {
	db *DB
}

var _ event.Repository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *DB) event.Repository {
	return &eventRepository{db: db}
}

// Spheres

// AddSphere seeds a sphere; spheres are provisioned out of band.
func (db *DB) AddSphere(sphere event.Sphere) event.Sphere {
	db.Lock()
	defer db.Unlock()

	sphere.ID = db.nextID()
	db.spheres[sphere.ID] = &sphere
	return sphere
}

func (repo *eventRepository) GetSphereByID(id int) (event.Sphere, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sphere, ok := repo.db.spheres[id]; ok {
		return *sphere, nil
	}
	return event.Sphere{}, event.ErrSphereNotFound
}

func (repo *eventRepository) GetSphereByDomain(domain string) (event.Sphere, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, sphere := range repo.db.spheres {
		if sphere.Domain == domain {
			return *sphere, nil
		}
	}
	return event.Sphere{}, event.ErrSphereNotFound
}

func (repo *eventRepository) IsSphereManager(sphereID int, userID string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.db.sphereManagers[sphereID][userID], nil
}

func (repo *eventRepository) AddSphereManager(sphereID int, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.db.sphereManagers[sphereID] == nil {
		repo.db.sphereManagers[sphereID] = make(map[string]bool)
	}
	repo.db.sphereManagers[sphereID][userID] = true
	return nil
}

// Events

func (repo *eventRepository) CreateEvent(ev event.Event) (event.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.events {
		if existing.SphereID == ev.SphereID && existing.Slug == ev.Slug {
			return event.Event{}, event.ErrSlugExists
		}
	}
	ev.ID = repo.db.nextID()
	repo.db.events[ev.ID] = &ev
	return ev, nil
}

func (repo *eventRepository) QueryEventsBySphere(sphereID int) ([]event.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var events []event.Event
	for _, ev := range repo.db.events {
		if ev.SphereID == sphereID {
			events = append(events, *ev)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (repo *eventRepository) GetEventByID(id int) (event.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ev, ok := repo.db.events[id]; ok {
		return *ev, nil
	}
	return event.Event{}, event.ErrEventNotFound
}

func (repo *eventRepository) GetEventBySlug(sphereID int, slug string) (event.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, ev := range repo.db.events {
		if ev.SphereID == sphereID && ev.Slug == slug {
			return *ev, nil
		}
	}
	return event.Event{}, event.ErrEventNotFound
}

func (repo *eventRepository) UpdateEvent(ev event.Event) (event.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.events[ev.ID]; !ok {
		return event.Event{}, event.ErrEventNotFound
	}
	repo.db.events[ev.ID] = &ev
	return ev, nil
}

// Spaces

func (repo *eventRepository) CreateSpace(sp event.Space) (event.Space, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sp.ID = repo.db.nextID()
	repo.db.spaces[sp.ID] = &sp
	return sp, nil
}

func (repo *eventRepository) QuerySpacesByEvent(eventID int) ([]event.Space, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var spaces []event.Space
	for _, sp := range repo.db.spaces {
		if sp.EventID == eventID {
			spaces = append(spaces, *sp)
		}
	}
	sort.Slice(spaces, func(i, j int) bool { return spaces[i].ID < spaces[j].ID })
	return spaces, nil
}

func (repo *eventRepository) GetSpaceByID(id int) (event.Space, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sp, ok := repo.db.spaces[id]; ok {
		return *sp, nil
	}
	return event.Space{}, event.ErrSpaceNotFound
}

// Time slots

func (repo *eventRepository) CreateTimeSlot(ts event.TimeSlot) (event.TimeSlot, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ts.ID = repo.db.nextID()
	repo.db.timeSlots[ts.ID] = &ts
	return ts, nil
}

func (repo *eventRepository) QueryTimeSlotsByEvent(eventID int) ([]event.TimeSlot, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var slots []event.TimeSlot
	for _, ts := range repo.db.timeSlots {
		if ts.EventID == eventID {
			slots = append(slots, *ts)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime.Before(slots[j].StartTime) })
	return slots, nil
}

func (repo *eventRepository) GetTimeSlotByID(id int) (event.TimeSlot, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ts, ok := repo.db.timeSlots[id]; ok {
		return *ts, nil
	}
	return event.TimeSlot{}, event.ErrTimeSlotNotFound
}

// Enrollment configs

func (repo *eventRepository) CreateEnrollmentConfig(cfg event.EnrollmentConfig) (event.EnrollmentConfig, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cfg.ID = repo.db.nextID()
	repo.db.enrollConfigs[cfg.ID] = &cfg
	return cfg, nil
}

func (repo *eventRepository) QueryEnrollmentConfigsByEvent(eventID int) ([]event.EnrollmentConfig, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var configs []event.EnrollmentConfig
	for _, cfg := range repo.db.enrollConfigs {
		if cfg.EventID == eventID {
			configs = append(configs, *cfg)
		}
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}

func (repo *eventRepository) GetEnrollmentConfigByID(id int) (event.EnrollmentConfig, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cfg, ok := repo.db.enrollConfigs[id]; ok {
		return *cfg, nil
	}
	return event.EnrollmentConfig{}, event.ErrConfigNotFound
}

func (repo *eventRepository) CreateDomainConfig(cfg event.DomainEnrollmentConfig) (event.DomainEnrollmentConfig, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cfg.ID = repo.db.nextID()
	repo.db.domainConfigs[cfg.ID] = &cfg
	return cfg, nil
}

func (repo *eventRepository) GetDomainConfig(enrollmentConfigID int, domain string) (event.DomainEnrollmentConfig, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, cfg := range repo.db.domainConfigs {
		if cfg.EnrollmentConfigID == enrollmentConfigID && cfg.Domain == domain {
			return *cfg, nil
		}
	}
	return event.DomainEnrollmentConfig{}, event.ErrConfigNotFound
}

func (repo *eventRepository) CreateUserConfig(cfg event.UserEnrollmentConfig) (event.UserEnrollmentConfig, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cfg.ID = repo.db.nextID()
	repo.db.userConfigs[cfg.ID] = &cfg
	return cfg, nil
}

func (repo *eventRepository) GetUserConfig(enrollmentConfigID int, email string) (event.UserEnrollmentConfig, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, cfg := range repo.db.userConfigs {
		if cfg.EnrollmentConfigID == enrollmentConfigID && cfg.UserEmail == email {
			return *cfg, nil
		}
	}
	return event.UserEnrollmentConfig{}, event.ErrConfigNotFound
}

func (repo *eventRepository) UpdateUserConfig(cfg event.UserEnrollmentConfig) (event.UserEnrollmentConfig, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.userConfigs[cfg.ID]; !ok {
		return event.UserEnrollmentConfig{}, event.ErrConfigNotFound
	}
	repo.db.userConfigs[cfg.ID] = &cfg
	return cfg, nil
}
