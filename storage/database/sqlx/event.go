package sqlxrepos

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core/event"
)

const pqUniqueViolation = "23505"

type dbSphere struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	Domain    string    `db:"domain"`
	IsOpen    bool      `db:"is_open"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s dbSphere) toCore() event.Sphere {
	return event.Sphere{
		ID:        s.ID,
		Name:      s.Name,
		Domain:    s.Domain,
		IsOpen:    s.IsOpen,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type dbEvent struct {
	ID                int       `db:"id"`
	SphereID          int       `db:"sphere_id"`
	Name              string    `db:"name"`
	Slug              string    `db:"slug"`
	Description       string    `db:"description"`
	StartTime         null.Time `db:"start_time"`
	EndTime           null.Time `db:"end_time"`
	ProposalStartTime null.Time `db:"proposal_start_time"`
	ProposalEndTime   null.Time `db:"proposal_end_time"`
	PublicationTime   null.Time `db:"publication_time"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (e dbEvent) toCore() event.Event {
	return event.Event{
		ID:                e.ID,
		SphereID:          e.SphereID,
		Name:              e.Name,
		Slug:              e.Slug,
		Description:       e.Description,
		StartTime:         e.StartTime,
		EndTime:           e.EndTime,
		ProposalStartTime: e.ProposalStartTime,
		ProposalEndTime:   e.ProposalEndTime,
		PublicationTime:   e.PublicationTime,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

type dbSpace struct {
	ID        int       `db:"id"`
	EventID   int       `db:"event_id"`
	Name      string    `db:"name"`
	Slug      string    `db:"slug"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s dbSpace) toCore() event.Space {
	return event.Space{
		ID:        s.ID,
		EventID:   s.EventID,
		Name:      s.Name,
		Slug:      s.Slug,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type dbTimeSlot struct {
	ID        int       `db:"id"`
	EventID   int       `db:"event_id"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
}

func (ts dbTimeSlot) toCore() event.TimeSlot {
	return event.TimeSlot{ID: ts.ID, EventID: ts.EventID, StartTime: ts.StartTime, EndTime: ts.EndTime}
}

type dbEnrollmentConfig struct {
	ID                        int       `db:"id"`
	EventID                   int       `db:"event_id"`
	StartTime                 time.Time `db:"start_time"`
	EndTime                   time.Time `db:"end_time"`
	PercentageSlots           int       `db:"percentage_slots"`
	LimitToEndTime            bool      `db:"limit_to_end_time"`
	MaxWaitlistSessions       int       `db:"max_waitlist_sessions"`
	RestrictToConfiguredUsers bool      `db:"restrict_to_configured_users"`
	AllowAnonymousEnrollment  bool      `db:"allow_anonymous_enrollment"`
	BannerText                string    `db:"banner_text"`
}

func (c dbEnrollmentConfig) toCore() event.EnrollmentConfig {
	return event.EnrollmentConfig{
		ID:                        c.ID,
		EventID:                   c.EventID,
		StartTime:                 c.StartTime,
		EndTime:                   c.EndTime,
		PercentageSlots:           c.PercentageSlots,
		LimitToEndTime:            c.LimitToEndTime,
		MaxWaitlistSessions:       c.MaxWaitlistSessions,
		RestrictToConfiguredUsers: c.RestrictToConfiguredUsers,
		AllowAnonymousEnrollment:  c.AllowAnonymousEnrollment,
		BannerText:                c.BannerText,
	}
}

type dbDomainConfig struct {
	ID                  int    `db:"id"`
	EnrollmentConfigID  int    `db:"enrollment_config_id"`
	Domain              string `db:"domain"`
	AllowedSlotsPerUser int    `db:"allowed_slots_per_user"`
}

func (c dbDomainConfig) toCore() event.DomainEnrollmentConfig {
	return event.DomainEnrollmentConfig{
		ID:                  c.ID,
		EnrollmentConfigID:  c.EnrollmentConfigID,
		Domain:              c.Domain,
		AllowedSlotsPerUser: c.AllowedSlotsPerUser,
	}
}

type dbUserConfig struct {
	ID                 int       `db:"id"`
	EnrollmentConfigID int       `db:"enrollment_config_id"`
	UserEmail          string    `db:"user_email"`
	AllowedSlots       int       `db:"allowed_slots"`
	FetchedFromAPI     bool      `db:"fetched_from_api"`
	LastCheck          null.Time `db:"last_check"`
}

func (c dbUserConfig) toCore() event.UserEnrollmentConfig {
	return event.UserEnrollmentConfig{
		ID:                 c.ID,
		EnrollmentConfigID: c.EnrollmentConfigID,
		UserEmail:          c.UserEmail,
		AllowedSlots:       c.AllowedSlots,
		FetchedFromAPI:     c.FetchedFromAPI,
		LastCheck:          c.LastCheck,
	}
}

type eventRepository struct {
	db *sqlx.DB
}

var _ event.Repository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *sqlx.DB) event.Repository {
	return &eventRepository{db: db}
}

func trapErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && string(pqErr.Code) == pqUniqueViolation
}

// Spheres

func (repo *eventRepository) GetSphereByID(id int) (event.Sphere, error) {
	var row dbSphere
	q := `SELECT * FROM spheres WHERE id = $1`
	if err := repo.db.Get(&row, q, id); err != nil {
		return event.Sphere{}, trapErr(err, event.ErrSphereNotFound, "getting sphere")
	}
	return row.toCore(), nil
}

func (repo *eventRepository) GetSphereByDomain(domain string) (event.Sphere, error) {
	var row dbSphere
	q := `SELECT * FROM spheres WHERE domain = $1`
	if err := repo.db.Get(&row, q, domain); err != nil {
		return event.Sphere{}, trapErr(err, event.ErrSphereNotFound, "getting sphere")
	}
	return row.toCore(), nil
}

func (repo *eventRepository) IsSphereManager(sphereID int, userID string) (bool, error) {
	var isManager bool
	q := `SELECT EXISTS (SELECT 1 FROM sphere_managers WHERE sphere_id = $1 AND user_id = $2)`
	if err := repo.db.Get(&isManager, q, sphereID, userID); err != nil {
		return false, errors.Wrap(err, "checking sphere manager")
	}
	return isManager, nil
}

func (repo *eventRepository) AddSphereManager(sphereID int, userID string) error {
	q := `INSERT INTO sphere_managers (sphere_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := repo.db.Exec(q, sphereID, userID); err != nil {
		return errors.Wrap(err, "adding sphere manager")
	}
	return nil
}

// Events

func (repo *eventRepository) CreateEvent(ev event.Event) (event.Event, error) {
	q := `INSERT INTO events (sphere_id, name, slug, description, start_time, end_time,
		proposal_start_time, proposal_end_time, publication_time, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id`
	err := repo.db.Get(&ev.ID, q,
		ev.SphereID, ev.Name, ev.Slug, ev.Description, ev.StartTime, ev.EndTime,
		ev.ProposalStartTime, ev.ProposalEndTime, ev.PublicationTime, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return event.Event{}, event.ErrSlugExists
		}
		return event.Event{}, errors.Wrap(err, "inserting event")
	}
	return ev, nil
}

func (repo *eventRepository) QueryEventsBySphere(sphereID int) ([]event.Event, error) {
	var rows []dbEvent
	q := `SELECT * FROM events WHERE sphere_id = $1 ORDER BY id`
	if err := repo.db.Select(&rows, q, sphereID); err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toCore())
	}
	return events, nil
}

func (repo *eventRepository) GetEventByID(id int) (event.Event, error) {
	var row dbEvent
	q := `SELECT * FROM events WHERE id = $1`
	if err := repo.db.Get(&row, q, id); err != nil {
		return event.Event{}, trapErr(err, event.ErrEventNotFound, "getting event")
	}
	return row.toCore(), nil
}

func (repo *eventRepository) GetEventBySlug(sphereID int, slug string) (event.Event, error) {
	var row dbEvent
	q := `SELECT * FROM events WHERE sphere_id = $1 AND slug = $2`
	if err := repo.db.Get(&row, q, sphereID, slug); err != nil {
		return event.Event{}, trapErr(err, event.ErrEventNotFound, "getting event")
	}
	return row.toCore(), nil
}

func (repo *eventRepository) UpdateEvent(ev event.Event) (event.Event, error) {
	q := `UPDATE events SET name = $1, description = $2, start_time = $3, end_time = $4,
		proposal_start_time = $5, proposal_end_time = $6, publication_time = $7, updated_at = $8
	WHERE id = $9`
	res, err := repo.db.Exec(q,
		ev.Name, ev.Description, ev.StartTime, ev.EndTime,
		ev.ProposalStartTime, ev.ProposalEndTime, ev.PublicationTime, ev.UpdatedAt, ev.ID)
	if err != nil {
		return event.Event{}, errors.Wrap(err, "updating event")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return event.Event{}, event.ErrEventNotFound
	}
	return ev, nil
}

// Spaces

func (repo *eventRepository) CreateSpace(sp event.Space) (event.Space, error) {
	q := `INSERT INTO spaces (event_id, name, slug, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id`
	if err := repo.db.Get(&sp.ID, q, sp.EventID, sp.Name, sp.Slug, sp.CreatedAt, sp.UpdatedAt); err != nil {
		return event.Space{}, errors.Wrap(err, "inserting space")
	}
	return sp, nil
}

func (repo *eventRepository) QuerySpacesByEvent(eventID int) ([]event.Space, error) {
	var rows []dbSpace
	q := `SELECT * FROM spaces WHERE event_id = $1 ORDER BY id`
	if err := repo.db.Select(&rows, q, eventID); err != nil {
		return nil, errors.Wrap(err, "querying spaces")
	}
	spaces := make([]event.Space, 0, len(rows))
	for _, row := range rows {
		spaces = append(spaces, row.toCore())
	}
	return spaces, nil
}

func (repo *eventRepository) GetSpaceByID(id int) (event.Space, error) {
	var row dbSpace
	q := `SELECT * FROM spaces WHERE id = $1`
	if err := repo.db.Get(&row, q, id); err != nil {
		return event.Space{}, trapErr(err, event.ErrSpaceNotFound, "getting space")
	}
	return row.toCore(), nil
}

// Time slots

func (repo *eventRepository) CreateTimeSlot(ts event.TimeSlot) (event.TimeSlot, error) {
	q := `INSERT INTO time_slots (event_id, start_time, end_time)
	VALUES ($1, $2, $3)
	RETURNING id`
	if err := repo.db.Get(&ts.ID, q, ts.EventID, ts.StartTime, ts.EndTime); err != nil {
		return event.TimeSlot{}, errors.Wrap(err, "inserting time slot")
	}
	return ts, nil
}

func (repo *eventRepository) QueryTimeSlotsByEvent(eventID int) ([]event.TimeSlot, error) {
	var rows []dbTimeSlot
	q := `SELECT * FROM time_slots WHERE event_id = $1 ORDER BY start_time`
	if err := repo.db.Select(&rows, q, eventID); err != nil {
		return nil, errors.Wrap(err, "querying time slots")
	}
	slots := make([]event.TimeSlot, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, row.toCore())
	}
	return slots, nil
}

func (repo *eventRepository) GetTimeSlotByID(id int) (event.TimeSlot, error) {
	var row dbTimeSlot
	q := `SELECT * FROM time_slots WHERE id = $1`
	if err := repo.db.Get(&row, q, id); err != nil {
		return event.TimeSlot{}, trapErr(err, event.ErrTimeSlotNotFound, "getting time slot")
	}
	return row.toCore(), nil
}

// Enrollment configs

func (repo *eventRepository) CreateEnrollmentConfig(cfg event.EnrollmentConfig) (event.EnrollmentConfig, error) {
	q := `INSERT INTO enrollment_configs (event_id, start_time, end_time, percentage_slots,
		limit_to_end_time, max_waitlist_sessions, restrict_to_configured_users,
		allow_anonymous_enrollment, banner_text)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id`
	err := repo.db.Get(&cfg.ID, q,
		cfg.EventID, cfg.StartTime, cfg.EndTime, cfg.PercentageSlots,
		cfg.LimitToEndTime, cfg.MaxWaitlistSessions, cfg.RestrictToConfiguredUsers,
		cfg.AllowAnonymousEnrollment, cfg.BannerText)
	if err != nil {
		return event.EnrollmentConfig{}, errors.Wrap(err, "inserting enrollment config")
	}
	return cfg, nil
}

func (repo *eventRepository) QueryEnrollmentConfigsByEvent(eventID int) ([]event.EnrollmentConfig, error) {
	var rows []dbEnrollmentConfig
	q := `SELECT * FROM enrollment_configs WHERE event_id = $1 ORDER BY id`
	if err := repo.db.Select(&rows, q, eventID); err != nil {
		return nil, errors.Wrap(err, "querying enrollment configs")
	}
	configs := make([]event.EnrollmentConfig, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, row.toCore())
	}
	return configs, nil
}

func (repo *eventRepository) GetEnrollmentConfigByID(id int) (event.EnrollmentConfig, error) {
	var row dbEnrollmentConfig
	q := `SELECT * FROM enrollment_configs WHERE id = $1`
	if err := repo.db.Get(&row, q, id); err != nil {
		return event.EnrollmentConfig{}, trapErr(err, event.ErrConfigNotFound, "getting enrollment config")
	}
	return row.toCore(), nil
}

func (repo *eventRepository) CreateDomainConfig(cfg event.DomainEnrollmentConfig) (event.DomainEnrollmentConfig, error) {
	q := `INSERT INTO domain_enrollment_configs (enrollment_config_id, domain, allowed_slots_per_user)
	VALUES ($1, $2, $3)
	RETURNING id`
	if err := repo.db.Get(&cfg.ID, q, cfg.EnrollmentConfigID, cfg.Domain, cfg.AllowedSlotsPerUser); err != nil {
		if isUniqueViolation(err) {
			return event.DomainEnrollmentConfig{}, event.ErrGrantExists
		}
		return event.DomainEnrollmentConfig{}, errors.Wrap(err, "inserting domain config")
	}
	return cfg, nil
}

func (repo *eventRepository) GetDomainConfig(enrollmentConfigID int, domain string) (event.DomainEnrollmentConfig, error) {
	var row dbDomainConfig
	q := `SELECT * FROM domain_enrollment_configs WHERE enrollment_config_id = $1 AND domain = $2`
	if err := repo.db.Get(&row, q, enrollmentConfigID, domain); err != nil {
		return event.DomainEnrollmentConfig{}, trapErr(err, event.ErrConfigNotFound, "getting domain config")
	}
	return row.toCore(), nil
}

func (repo *eventRepository) CreateUserConfig(cfg event.UserEnrollmentConfig) (event.UserEnrollmentConfig, error) {
	q := `INSERT INTO user_enrollment_configs (enrollment_config_id, user_email, allowed_slots,
		fetched_from_api, last_check)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id`
	err := repo.db.Get(&cfg.ID, q,
		cfg.EnrollmentConfigID, cfg.UserEmail, cfg.AllowedSlots, cfg.FetchedFromAPI, cfg.LastCheck)
	if err != nil {
		if isUniqueViolation(err) {
			return event.UserEnrollmentConfig{}, event.ErrGrantExists
		}
		return event.UserEnrollmentConfig{}, errors.Wrap(err, "inserting user config")
	}
	return cfg, nil
}

func (repo *eventRepository) GetUserConfig(enrollmentConfigID int, email string) (event.UserEnrollmentConfig, error) {
	var row dbUserConfig
	q := `SELECT * FROM user_enrollment_configs WHERE enrollment_config_id = $1 AND user_email = $2`
	if err := repo.db.Get(&row, q, enrollmentConfigID, email); err != nil {
		return event.UserEnrollmentConfig{}, trapErr(err, event.ErrConfigNotFound, "getting user config")
	}
	return row.toCore(), nil
}

func (repo *eventRepository) UpdateUserConfig(cfg event.UserEnrollmentConfig) (event.UserEnrollmentConfig, error) {
	q := `UPDATE user_enrollment_configs SET allowed_slots = $1, fetched_from_api = $2, last_check = $3
	WHERE id = $4`
	res, err := repo.db.Exec(q, cfg.AllowedSlots, cfg.FetchedFromAPI, cfg.LastCheck, cfg.ID)
	if err != nil {
		return event.UserEnrollmentConfig{}, errors.Wrap(err, "updating user config")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return event.UserEnrollmentConfig{}, event.ErrConfigNotFound
	}
	return cfg, nil
}
