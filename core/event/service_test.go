package event

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
)

type fakeRepo struct {
	Repository

	configs     []EnrollmentConfig
	userConfigs []UserEnrollmentConfig
	domConfigs  []DomainEnrollmentConfig
	slots       []TimeSlot
}

func (r *fakeRepo) QueryEnrollmentConfigsByEvent(eventID int) ([]EnrollmentConfig, error) {
	var res []EnrollmentConfig
	for _, cfg := range r.configs {
		if cfg.EventID == eventID {
			res = append(res, cfg)
		}
	}
	return res, nil
}

func (r *fakeRepo) GetUserConfig(cfgID int, email string) (UserEnrollmentConfig, error) {
	for _, ucfg := range r.userConfigs {
		if ucfg.EnrollmentConfigID == cfgID && ucfg.UserEmail == email {
			return ucfg, nil
		}
	}
	return UserEnrollmentConfig{}, ErrConfigNotFound
}

func (r *fakeRepo) CreateUserConfig(ucfg UserEnrollmentConfig) (UserEnrollmentConfig, error) {
	ucfg.ID = len(r.userConfigs) + 1
	r.userConfigs = append(r.userConfigs, ucfg)
	return ucfg, nil
}

func (r *fakeRepo) UpdateUserConfig(ucfg UserEnrollmentConfig) (UserEnrollmentConfig, error) {
	for i, existing := range r.userConfigs {
		if existing.ID == ucfg.ID {
			r.userConfigs[i] = ucfg
			return ucfg, nil
		}
	}
	return UserEnrollmentConfig{}, ErrConfigNotFound
}

func (r *fakeRepo) GetDomainConfig(cfgID int, domain string) (DomainEnrollmentConfig, error) {
	for _, dcfg := range r.domConfigs {
		if dcfg.EnrollmentConfigID == cfgID && dcfg.Domain == domain {
			return dcfg, nil
		}
	}
	return DomainEnrollmentConfig{}, ErrConfigNotFound
}

func (r *fakeRepo) QueryTimeSlotsByEvent(eventID int) ([]TimeSlot, error) {
	var res []TimeSlot
	for _, ts := range r.slots {
		if ts.EventID == eventID {
			res = append(res, ts)
		}
	}
	return res, nil
}

func (r *fakeRepo) CreateTimeSlot(ts TimeSlot) (TimeSlot, error) {
	ts.ID = len(r.slots) + 1
	r.slots = append(r.slots, ts)
	return ts, nil
}

type fakeMembership struct {
	configured bool
	counts     map[string]int
	err        error
	calls      int
}

func (m *fakeMembership) IsConfigured() bool { return m.configured }

func (m *fakeMembership) FetchMembershipCount(email string) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[email], nil
}

func TestMostLiberalConfig(t *testing.T) {
	now := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	sessionStart := now.Add(time.Hour)
	ev := Event{ID: 1}

	active := func(pct int, limitToEnd bool) EnrollmentConfig {
		return EnrollmentConfig{
			EventID:         1,
			StartTime:       now.Add(-time.Hour),
			EndTime:         now.Add(2 * time.Hour),
			PercentageSlots: pct,
			LimitToEndTime:  limitToEnd,
		}
	}

	tests := []struct {
		name    string
		configs []EnrollmentConfig
		wantPct int
		wantOK  bool
	}{
		{name: "no configs"},
		{
			name: "single active",
			configs: []EnrollmentConfig{
				active(50, false),
			},
			wantPct: 50,
			wantOK:  true,
		},
		{
			name: "most liberal wins",
			configs: []EnrollmentConfig{
				active(50, false),
				active(100, false),
				active(75, false),
			},
			wantPct: 100,
			wantOK:  true,
		},
		{
			name: "inactive window skipped",
			configs: []EnrollmentConfig{
				{EventID: 1, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour), PercentageSlots: 100},
				active(50, false),
			},
			wantPct: 50,
			wantOK:  true,
		},
		{
			name: "limit to end time excludes late sessions",
			configs: []EnrollmentConfig{
				{EventID: 1, StartTime: now.Add(-time.Hour), EndTime: now.Add(30 * time.Minute),
					PercentageSlots: 100, LimitToEndTime: true},
				active(50, false),
			},
			wantPct: 50,
			wantOK:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&fakeRepo{configs: tt.configs}, nil)
			cfg, ok, err := svc.MostLiberalConfig(ev, sessionStart, now)
			if err != nil {
				t.Fatalf("MostLiberalConfig() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("MostLiberalConfig() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && cfg.PercentageSlots != tt.wantPct {
				t.Errorf("MostLiberalConfig() pct = %v, want %v", cfg.PercentageSlots, tt.wantPct)
			}
		})
	}
}

func TestResolveSlotGrant(t *testing.T) {
	now := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	ev := Event{ID: 1}
	cfg := EnrollmentConfig{
		ID: 1, EventID: 1,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}

	t.Run("no sources", func(t *testing.T) {
		svc := NewService(&fakeRepo{configs: []EnrollmentConfig{cfg}}, nil)
		_, ok, err := svc.ResolveSlotGrant(ev, "nobody@test.test", now)
		if err != nil {
			t.Fatalf("ResolveSlotGrant() error = %v", err)
		}
		if ok {
			t.Error("ResolveSlotGrant() ok = true, want false")
		}
	})

	t.Run("explicit user config", func(t *testing.T) {
		repo := &fakeRepo{
			configs: []EnrollmentConfig{cfg},
			userConfigs: []UserEnrollmentConfig{
				{ID: 1, EnrollmentConfigID: 1, UserEmail: "member@test.test", AllowedSlots: 3},
			},
		}
		svc := NewService(repo, nil)
		grant, ok, err := svc.ResolveSlotGrant(ev, "member@test.test", now)
		if err != nil || !ok {
			t.Fatalf("ResolveSlotGrant() = ok %v, err %v", ok, err)
		}
		if grant.AllowedSlots != 3 || !grant.HasIndividualConfig || grant.CombinedAccess {
			t.Errorf("ResolveSlotGrant() = %+v", grant)
		}
	})

	t.Run("domain config", func(t *testing.T) {
		repo := &fakeRepo{
			configs: []EnrollmentConfig{cfg},
			domConfigs: []DomainEnrollmentConfig{
				{ID: 1, EnrollmentConfigID: 1, Domain: "club.test", AllowedSlotsPerUser: 2},
			},
		}
		svc := NewService(repo, nil)
		grant, ok, err := svc.ResolveSlotGrant(ev, "anyone@club.test", now)
		if err != nil || !ok {
			t.Fatalf("ResolveSlotGrant() = ok %v, err %v", ok, err)
		}
		if grant.AllowedSlots != 2 || !grant.HasDomainConfig || grant.Domain != "club.test" {
			t.Errorf("ResolveSlotGrant() = %+v", grant)
		}
	})

	t.Run("combined sources sum", func(t *testing.T) {
		repo := &fakeRepo{
			configs: []EnrollmentConfig{cfg},
			userConfigs: []UserEnrollmentConfig{
				{ID: 1, EnrollmentConfigID: 1, UserEmail: "member@club.test", AllowedSlots: 3},
			},
			domConfigs: []DomainEnrollmentConfig{
				{ID: 1, EnrollmentConfigID: 1, Domain: "club.test", AllowedSlotsPerUser: 2},
			},
		}
		svc := NewService(repo, nil)
		grant, ok, err := svc.ResolveSlotGrant(ev, "member@club.test", now)
		if err != nil || !ok {
			t.Fatalf("ResolveSlotGrant() = ok %v, err %v", ok, err)
		}
		if grant.AllowedSlots != 5 || !grant.CombinedAccess {
			t.Errorf("ResolveSlotGrant() = %+v, want 5 combined slots", grant)
		}
	})

	t.Run("membership api fetch persisted and capped", func(t *testing.T) {
		repo := &fakeRepo{configs: []EnrollmentConfig{cfg}}
		api := &fakeMembership{configured: true, counts: map[string]int{"vip@test.test": 9}}
		svc := NewService(repo, api)

		grant, ok, err := svc.ResolveSlotGrant(ev, "vip@test.test", now)
		if err != nil || !ok {
			t.Fatalf("ResolveSlotGrant() = ok %v, err %v", ok, err)
		}
		if grant.AllowedSlots != core.Conf.Membership.MaxSlots || !grant.FetchedFromAPI {
			t.Errorf("ResolveSlotGrant() = %+v, want capped api grant", grant)
		}
		if len(repo.userConfigs) != 1 {
			t.Fatalf("user config rows = %d, want 1", len(repo.userConfigs))
		}

		// cached rows with slots are final; no second API call
		if _, _, err = svc.ResolveSlotGrant(ev, "vip@test.test", now); err != nil {
			t.Fatalf("ResolveSlotGrant() error = %v", err)
		}
		if api.calls != 1 {
			t.Errorf("api calls = %d, want 1", api.calls)
		}
	})

	t.Run("zero slot api row rechecked after interval", func(t *testing.T) {
		stale := now.Add(-core.Conf.Membership.CheckInterval - time.Minute)
		repo := &fakeRepo{
			configs: []EnrollmentConfig{cfg},
			userConfigs: []UserEnrollmentConfig{
				{ID: 1, EnrollmentConfigID: 1, UserEmail: "late@test.test",
					FetchedFromAPI: true, LastCheck: null.TimeFrom(stale)},
			},
		}
		api := &fakeMembership{configured: true, counts: map[string]int{"late@test.test": 2}}
		svc := NewService(repo, api)

		grant, ok, err := svc.ResolveSlotGrant(ev, "late@test.test", now)
		if err != nil || !ok {
			t.Fatalf("ResolveSlotGrant() = ok %v, err %v", ok, err)
		}
		if grant.AllowedSlots != 2 {
			t.Errorf("AllowedSlots = %d, want 2", grant.AllowedSlots)
		}
		if api.calls != 1 {
			t.Errorf("api calls = %d, want 1", api.calls)
		}
	})

	t.Run("zero slot api row checked recently stays cached", func(t *testing.T) {
		repo := &fakeRepo{
			configs: []EnrollmentConfig{cfg},
			userConfigs: []UserEnrollmentConfig{
				{ID: 1, EnrollmentConfigID: 1, UserEmail: "late@test.test",
					FetchedFromAPI: true, LastCheck: null.TimeFrom(now.Add(-time.Minute))},
			},
		}
		api := &fakeMembership{configured: true, counts: map[string]int{"late@test.test": 2}}
		svc := NewService(repo, api)

		_, ok, err := svc.ResolveSlotGrant(ev, "late@test.test", now)
		if err != nil {
			t.Fatalf("ResolveSlotGrant() error = %v", err)
		}
		if ok {
			t.Error("ResolveSlotGrant() ok = true, want false")
		}
		if api.calls != 0 {
			t.Errorf("api calls = %d, want 0", api.calls)
		}
	})

	t.Run("api failure persists placeholder", func(t *testing.T) {
		repo := &fakeRepo{configs: []EnrollmentConfig{cfg}}
		api := &fakeMembership{configured: true, err: errors.New("boom")}
		svc := NewService(repo, api)

		_, ok, err := svc.ResolveSlotGrant(ev, "down@test.test", now)
		if err != nil {
			t.Fatalf("ResolveSlotGrant() error = %v", err)
		}
		if ok {
			t.Error("ResolveSlotGrant() ok = true, want false")
		}
		if len(repo.userConfigs) != 1 || repo.userConfigs[0].AllowedSlots != 0 || !repo.userConfigs[0].FetchedFromAPI {
			t.Errorf("placeholder row = %+v", repo.userConfigs)
		}
	})
}

func TestCreateTimeSlotRejectsOverlap(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, time.June, 1, h, 0, 0, 0, time.UTC) }
	repo := &fakeRepo{slots: []TimeSlot{{ID: 1, EventID: 1, StartTime: at(10), EndTime: at(12)}}}
	svc := NewService(repo, nil)
	ev := Event{ID: 1}

	if _, err := svc.CreateTimeSlot(ev, NewTimeSlot{StartTime: at(11), EndTime: at(13)}); err == nil {
		t.Error("CreateTimeSlot() error = nil for an overlapping slot")
	}
	if _, err := svc.CreateTimeSlot(ev, NewTimeSlot{StartTime: at(12), EndTime: at(14)}); err != nil {
		t.Errorf("CreateTimeSlot() error = %v for a touching slot", err)
	}
}
