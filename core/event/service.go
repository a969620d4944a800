package event

import (
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
)

var (
	// errors
	ErrSphereNotFound    = errors.New("sphere not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrSpaceNotFound     = errors.New("space not found")
	ErrTimeSlotNotFound  = errors.New("time slot not found")
	ErrConfigNotFound    = errors.New("enrollment config not found")
	ErrSlugExists        = errors.New("an event with this slug already exists")
	ErrTimeSlotOverlap   = errors.New("time slots can't overlap")
	ErrInvalidEventTimes = errors.New("invalid event times")
	ErrGrantExists       = errors.New("a grant for this recipient already exists")
)

type (
	Repository interface {
		GetSphereByID(id int) (Sphere, error)
		GetSphereByDomain(domain string) (Sphere, error)
		IsSphereManager(sphereID int, userID string) (bool, error)
		AddSphereManager(sphereID int, userID string) error

		CreateEvent(ev Event) (Event, error)
		QueryEventsBySphere(sphereID int) ([]Event, error)
		GetEventByID(id int) (Event, error)
		GetEventBySlug(sphereID int, slug string) (Event, error)
		UpdateEvent(ev Event) (Event, error)

		CreateSpace(sp Space) (Space, error)
		QuerySpacesByEvent(eventID int) ([]Space, error)
		GetSpaceByID(id int) (Space, error)

		CreateTimeSlot(ts TimeSlot) (TimeSlot, error)
		QueryTimeSlotsByEvent(eventID int) ([]TimeSlot, error)
		GetTimeSlotByID(id int) (TimeSlot, error)

		CreateEnrollmentConfig(cfg EnrollmentConfig) (EnrollmentConfig, error)
		QueryEnrollmentConfigsByEvent(eventID int) ([]EnrollmentConfig, error)
		GetEnrollmentConfigByID(id int) (EnrollmentConfig, error)

		CreateDomainConfig(cfg DomainEnrollmentConfig) (DomainEnrollmentConfig, error)
		GetDomainConfig(enrollmentConfigID int, domain string) (DomainEnrollmentConfig, error)

		CreateUserConfig(cfg UserEnrollmentConfig) (UserEnrollmentConfig, error)
		GetUserConfig(enrollmentConfigID int, email string) (UserEnrollmentConfig, error)
		UpdateUserConfig(cfg UserEnrollmentConfig) (UserEnrollmentConfig, error)
	}

	// MembershipClient looks up membership counts on the external membership API.
	MembershipClient interface {
		IsConfigured() bool
		FetchMembershipCount(email string) (int, error)
	}

	Service interface {
		GetSphere(id int) (Sphere, error)
		GetSphereByDomain(domain string) (Sphere, error)
		IsManager(sphere Sphere, userID string) (bool, error)
		AddManager(sphere Sphere, userID string) error

		Create(sphere Sphere, ne NewEvent) (Event, error)
		QueryBySphere(sphere Sphere) ([]Event, error)
		GetByID(id int) (Event, error)
		GetBySlug(sphere Sphere, slug string) (Event, error)
		Update(ev Event, ue UpdateEvent) (Event, error)

		CreateSpace(ev Event, ns NewSpace) (Space, error)
		QuerySpaces(ev Event) ([]Space, error)
		GetSpace(id int) (Space, error)

		CreateTimeSlot(ev Event, nts NewTimeSlot) (TimeSlot, error)
		QueryTimeSlots(ev Event) ([]TimeSlot, error)
		GetTimeSlot(id int) (TimeSlot, error)

		CreateEnrollmentConfig(ev Event, nec NewEnrollmentConfig) (EnrollmentConfig, error)
		QueryEnrollmentConfigs(ev Event) ([]EnrollmentConfig, error)
		ActiveConfigs(ev Event, now time.Time) ([]EnrollmentConfig, error)
		// MostLiberalConfig picks, among the event's configs applying to a
		// session starting at sessionStart, the one with the highest
		// PercentageSlots. ok is false when none applies.
		MostLiberalConfig(ev Event, sessionStart, now time.Time) (EnrollmentConfig, bool, error)
		AnonymousEnrollmentAllowed(ev Event, now time.Time) (bool, error)

		CreateDomainGrant(cfg EnrollmentConfig, ndg NewDomainGrant) (DomainEnrollmentConfig, error)
		CreateUserGrant(cfg EnrollmentConfig, nug NewUserGrant) (UserEnrollmentConfig, error)
		GetEnrollmentConfig(id int) (EnrollmentConfig, error)

		// ResolveSlotGrant resolves the slot allowance for an email across all
		// currently active configs of the event. ok is false when no source
		// grants the user anything.
		ResolveSlotGrant(ev Event, email string, now time.Time) (SlotGrant, bool, error)
	}

	service struct {
		repo       Repository
		membership MembershipClient
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, membership MembershipClient) Service {
	return &service{
		repo:       repo,
		membership: membership,
	}
}

func (svc *service) GetSphere(id int) (Sphere, error) {
	return svc.repo.GetSphereByID(id)
}

func (svc *service) GetSphereByDomain(domain string) (Sphere, error) {
	return svc.repo.GetSphereByDomain(core.CleanString(domain, true /* lower */))
}

func (svc *service) IsManager(sphere Sphere, userID string) (bool, error) {
	return svc.repo.IsSphereManager(sphere.ID, userID)
}

func (svc *service) AddManager(sphere Sphere, userID string) error {
	return svc.repo.AddSphereManager(sphere.ID, userID)
}

func (svc *service) Create(sphere Sphere, ne NewEvent) (Event, error) {
	now := time.Now().UTC()
	ev := Event{
		SphereID:          sphere.ID,
		Name:              ne.Name,
		Slug:              core.Slugify(ne.Name),
		Description:       ne.Description,
		StartTime:         nullTime(ne.StartTime),
		EndTime:           nullTime(ne.EndTime),
		ProposalStartTime: nullTime(ne.ProposalStartTime),
		ProposalEndTime:   nullTime(ne.ProposalEndTime),
		PublicationTime:   nullTime(ne.PublicationTime),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	created, err := svc.repo.CreateEvent(ev)
	if errors.Cause(err) == ErrSlugExists {
		return Event{}, core.NewValidationError(err, core.FieldError{Field: "name", Error: err.Error()})
	}
	return created, err
}

func (svc *service) QueryBySphere(sphere Sphere) ([]Event, error) {
	return svc.repo.QueryEventsBySphere(sphere.ID)
}

func (svc *service) GetByID(id int) (Event, error) {
	return svc.repo.GetEventByID(id)
}

func (svc *service) GetBySlug(sphere Sphere, slug string) (Event, error) {
	return svc.repo.GetEventBySlug(sphere.ID, core.CleanString(slug, true /* lower */))
}

func (svc *service) Update(ev Event, ue UpdateEvent) (Event, error) {
	ev.Name = ue.Name
	ev.Description = ue.Description
	ev.StartTime = nullTime(ue.StartTime)
	ev.EndTime = nullTime(ue.EndTime)
	ev.ProposalStartTime = nullTime(ue.ProposalStartTime)
	ev.ProposalEndTime = nullTime(ue.ProposalEndTime)
	ev.PublicationTime = nullTime(ue.PublicationTime)
	ev.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateEvent(ev)
}

func (svc *service) CreateSpace(ev Event, ns NewSpace) (Space, error) {
	now := time.Now().UTC()
	return svc.repo.CreateSpace(Space{
		EventID:   ev.ID,
		Name:      ns.Name,
		Slug:      core.Slugify(ns.Name),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *service) QuerySpaces(ev Event) ([]Space, error) {
	return svc.repo.QuerySpacesByEvent(ev.ID)
}

func (svc *service) GetSpace(id int) (Space, error) {
	return svc.repo.GetSpaceByID(id)
}

// CreateTimeSlot rejects slots overlapping an existing slot of the event.
func (svc *service) CreateTimeSlot(ev Event, nts NewTimeSlot) (TimeSlot, error) {
	ts := TimeSlot{
		EventID:   ev.ID,
		StartTime: nts.StartTime,
		EndTime:   nts.EndTime,
	}
	existing, err := svc.repo.QueryTimeSlotsByEvent(ev.ID)
	if err != nil {
		return TimeSlot{}, err
	}
	for _, other := range existing {
		if ts.ConflictsWith(other) {
			return TimeSlot{}, core.NewValidationError(ErrTimeSlotOverlap,
				core.FieldError{Field: "start_time", Error: ErrTimeSlotOverlap.Error()})
		}
	}
	return svc.repo.CreateTimeSlot(ts)
}

func (svc *service) QueryTimeSlots(ev Event) ([]TimeSlot, error) {
	return svc.repo.QueryTimeSlotsByEvent(ev.ID)
}

func (svc *service) GetTimeSlot(id int) (TimeSlot, error) {
	return svc.repo.GetTimeSlotByID(id)
}

func (svc *service) CreateEnrollmentConfig(ev Event, nec NewEnrollmentConfig) (EnrollmentConfig, error) {
	return svc.repo.CreateEnrollmentConfig(EnrollmentConfig{
		EventID:                   ev.ID,
		StartTime:                 nec.StartTime,
		EndTime:                   nec.EndTime,
		PercentageSlots:           nec.PercentageSlots,
		LimitToEndTime:            nec.LimitToEndTime,
		MaxWaitlistSessions:       nec.MaxWaitlistSessions,
		RestrictToConfiguredUsers: nec.RestrictToConfiguredUsers,
		AllowAnonymousEnrollment:  nec.AllowAnonymousEnrollment,
		BannerText:                nec.BannerText,
	})
}

func (svc *service) QueryEnrollmentConfigs(ev Event) ([]EnrollmentConfig, error) {
	return svc.repo.QueryEnrollmentConfigsByEvent(ev.ID)
}

func (svc *service) GetEnrollmentConfig(id int) (EnrollmentConfig, error) {
	return svc.repo.GetEnrollmentConfigByID(id)
}

func (svc *service) ActiveConfigs(ev Event, now time.Time) ([]EnrollmentConfig, error) {
	configs, err := svc.repo.QueryEnrollmentConfigsByEvent(ev.ID)
	if err != nil {
		return nil, err
	}
	active := make([]EnrollmentConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.IsActive(now) {
			active = append(active, cfg)
		}
	}
	return active, nil
}

func (svc *service) MostLiberalConfig(ev Event, sessionStart, now time.Time) (EnrollmentConfig, bool, error) {
	configs, err := svc.repo.QueryEnrollmentConfigsByEvent(ev.ID)
	if err != nil {
		return EnrollmentConfig{}, false, err
	}
	var (
		best  EnrollmentConfig
		found bool
	)
	for _, cfg := range configs {
		if !cfg.AppliesTo(sessionStart, now) {
			continue
		}
		if !found || cfg.PercentageSlots > best.PercentageSlots {
			best = cfg
			found = true
		}
	}
	return best, found, nil
}

func (svc *service) AnonymousEnrollmentAllowed(ev Event, now time.Time) (bool, error) {
	active, err := svc.ActiveConfigs(ev, now)
	if err != nil {
		return false, err
	}
	for _, cfg := range active {
		if cfg.AllowAnonymousEnrollment {
			return true, nil
		}
	}
	return false, nil
}

func (svc *service) CreateDomainGrant(cfg EnrollmentConfig, ndg NewDomainGrant) (DomainEnrollmentConfig, error) {
	if _, err := svc.repo.GetDomainConfig(cfg.ID, ndg.Domain); err == nil {
		return DomainEnrollmentConfig{}, core.NewValidationError(ErrGrantExists,
			core.FieldError{Field: "domain", Error: ErrGrantExists.Error()})
	}
	return svc.repo.CreateDomainConfig(DomainEnrollmentConfig{
		EnrollmentConfigID:  cfg.ID,
		Domain:              ndg.Domain,
		AllowedSlotsPerUser: ndg.AllowedSlotsPerUser,
	})
}

func (svc *service) CreateUserGrant(cfg EnrollmentConfig, nug NewUserGrant) (UserEnrollmentConfig, error) {
	if _, err := svc.repo.GetUserConfig(cfg.ID, nug.UserEmail); err == nil {
		return UserEnrollmentConfig{}, core.NewValidationError(ErrGrantExists,
			core.FieldError{Field: "user_email", Error: ErrGrantExists.Error()})
	}
	return svc.repo.CreateUserConfig(UserEnrollmentConfig{
		EnrollmentConfigID: cfg.ID,
		UserEmail:          nug.UserEmail,
		AllowedSlots:       nug.AllowedSlots,
	})
}

func (svc *service) ResolveSlotGrant(ev Event, email string, now time.Time) (SlotGrant, bool, error) {
	email = core.CleanString(email, true /* lower */)
	if email == "" {
		return SlotGrant{}, false, nil
	}

	configs, err := svc.repo.QueryEnrollmentConfigsByEvent(ev.ID)
	if err != nil {
		return SlotGrant{}, false, err
	}

	var (
		grant      SlotGrant
		found      bool
		totalSlots int
	)
	for _, cfg := range configs {
		if !cfg.IsActive(now) {
			continue
		}

		ucfg, ok, err := svc.userConfigFor(cfg, email, now)
		if err != nil {
			return SlotGrant{}, false, err
		}
		if ok {
			totalSlots += ucfg.AllowedSlots
			if !found {
				grant = SlotGrant{
					UserEmail:          email,
					AllowedSlots:       ucfg.AllowedSlots,
					EnrollmentConfigID: cfg.ID,
					FetchedFromAPI:     ucfg.FetchedFromAPI,
				}
				found = true
			}
			grant.HasIndividualConfig = true
		}

		// domain access applies on top of any individual config
		if domain := core.EmailDomain(email); domain != "" {
			dcfg, err := svc.repo.GetDomainConfig(cfg.ID, domain)
			switch errors.Cause(err) {
			case nil:
				totalSlots += dcfg.AllowedSlotsPerUser
				if !found {
					grant = SlotGrant{
						UserEmail:          email,
						AllowedSlots:       dcfg.AllowedSlotsPerUser,
						EnrollmentConfigID: cfg.ID,
					}
					found = true
				}
				grant.HasDomainConfig = true
				grant.Domain = dcfg.Domain
			case ErrConfigNotFound:
			default:
				return SlotGrant{}, false, err
			}
		}
	}

	if !found {
		return SlotGrant{}, false, nil
	}
	if (grant.HasIndividualConfig && grant.HasDomainConfig) || totalSlots != grant.AllowedSlots {
		grant.AllowedSlots = totalSlots
		grant.CombinedAccess = true
	}
	return grant, true, nil
}

// userConfigFor returns the user's slot config for the given enrollment
// config, fetching it from the membership API when not configured locally.
// Cached configs with slots are final; zero-slot API rows are re-checked once
// Conf.Membership.CheckInterval has passed since the last check.
func (svc *service) userConfigFor(cfg EnrollmentConfig, email string, now time.Time) (UserEnrollmentConfig, bool, error) {
	ucfg, err := svc.repo.GetUserConfig(cfg.ID, email)
	switch errors.Cause(err) {
	case nil:
		if ucfg.AllowedSlots > 0 {
			return ucfg, true, nil
		}
		if ucfg.FetchedFromAPI && ucfg.LastCheck.Valid &&
			now.Sub(ucfg.LastCheck.Time) > core.Conf.Membership.CheckInterval {
			return svc.refreshUserConfig(ucfg, now)
		}
		return UserEnrollmentConfig{}, false, nil
	case ErrConfigNotFound:
	default:
		return UserEnrollmentConfig{}, false, err
	}

	if svc.membership == nil || !svc.membership.IsConfigured() {
		return UserEnrollmentConfig{}, false, nil
	}
	return svc.createUserConfigFromAPI(cfg, email, now)
}

func (svc *service) refreshUserConfig(ucfg UserEnrollmentConfig, now time.Time) (UserEnrollmentConfig, bool, error) {
	if svc.membership == nil || !svc.membership.IsConfigured() {
		return UserEnrollmentConfig{}, false, nil
	}

	count, err := svc.membership.FetchMembershipCount(ucfg.UserEmail)
	ucfg.LastCheck = null.TimeFrom(now)
	if err != nil {
		// keep existing data, only record the check
		if _, uerr := svc.repo.UpdateUserConfig(ucfg); uerr != nil {
			return UserEnrollmentConfig{}, false, uerr
		}
		return UserEnrollmentConfig{}, false, nil
	}

	ucfg.AllowedSlots = cappedSlots(count)
	updated, err := svc.repo.UpdateUserConfig(ucfg)
	if err != nil {
		return UserEnrollmentConfig{}, false, err
	}
	return updated, updated.AllowedSlots > 0, nil
}

func (svc *service) createUserConfigFromAPI(cfg EnrollmentConfig, email string, now time.Time) (UserEnrollmentConfig, bool, error) {
	count, err := svc.membership.FetchMembershipCount(email)
	if err != nil {
		// persist a zero-slot placeholder to avoid hammering the API
		count = 0
	}
	created, cerr := svc.repo.CreateUserConfig(UserEnrollmentConfig{
		EnrollmentConfigID: cfg.ID,
		UserEmail:          email,
		AllowedSlots:       cappedSlots(count),
		FetchedFromAPI:     true,
		LastCheck:          null.TimeFrom(now),
	})
	if cerr != nil {
		return UserEnrollmentConfig{}, false, cerr
	}
	return created, created.AllowedSlots > 0, nil
}

func cappedSlots(membershipCount int) int {
	if membershipCount > core.Conf.Membership.MaxSlots {
		return core.Conf.Membership.MaxSlots
	}
	if membershipCount < 0 {
		return 0
	}
	return membershipCount
}

func nullTime(t time.Time) null.Time {
	if t.IsZero() {
		return null.Time{}
	}
	return null.TimeFrom(t)
}
