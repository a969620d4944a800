package sqlxrepos

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core/session"
)

type dbSession struct {
	ID                int         `db:"id"`
	SphereID          int         `db:"sphere_id"`
	Title             string      `db:"title"`
	Slug              string      `db:"slug"`
	Description       string      `db:"description"`
	Requirements      string      `db:"requirements"`
	PresenterName     string      `db:"presenter_name"`
	HostID            null.String `db:"host_id"`
	ParticipantsLimit int         `db:"participants_limit"`
	MinAge            int         `db:"min_age"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
}

func (s dbSession) toCore() session.Session {
	return session.Session{
		ID:                s.ID,
		SphereID:          s.SphereID,
		Title:             s.Title,
		Slug:              s.Slug,
		Description:       s.Description,
		Requirements:      s.Requirements,
		PresenterName:     s.PresenterName,
		HostID:            s.HostID,
		ParticipantsLimit: s.ParticipantsLimit,
		MinAge:            s.MinAge,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

type dbAgendaItem struct {
	ID               int       `db:"id"`
	SessionID        int       `db:"session_id"`
	SpaceID          int       `db:"space_id"`
	StartTime        time.Time `db:"start_time"`
	EndTime          time.Time `db:"end_time"`
	SessionConfirmed bool      `db:"session_confirmed"`
}

func (ai dbAgendaItem) toCore() session.AgendaItem {
	return session.AgendaItem{
		ID:               ai.ID,
		SessionID:        ai.SessionID,
		SpaceID:          ai.SpaceID,
		StartTime:        ai.StartTime,
		EndTime:          ai.EndTime,
		SessionConfirmed: ai.SessionConfirmed,
	}
}

type dbParticipation struct {
	ID        int       `db:"id"`
	SessionID int       `db:"session_id"`
	UserID    string    `db:"user_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (p dbParticipation) toCore() session.SessionParticipation {
	return session.SessionParticipation{
		ID:        p.ID,
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// sessionRepository runs against db outside transactions and against ext
// while one is open.
type sessionRepository struct {
	db  *sqlx.DB
	ext sqlx.Ext
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db, ext: db}
}

func (repo *sessionRepository) InTx(fn func(tx session.Repository) error) error {
	txx, err := repo.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	txRepo := &sessionRepository{db: repo.db, ext: txx}
	if err = fn(txRepo); err != nil {
		if rerr := txx.Rollback(); rerr != nil {
			return errors.Wrap(rerr, "rolling back transaction")
		}
		return err
	}
	return errors.Wrap(txx.Commit(), "committing transaction")
}

func (repo *sessionRepository) LockSession(id int) (session.Session, error) {
	var row dbSession
	q := `SELECT * FROM sessions WHERE id = $1 FOR UPDATE`
	if err := sqlx.Get(repo.ext, &row, q, id); err != nil {
		return session.Session{}, trapErr(err, session.ErrNotFound, "locking session")
	}
	return row.toCore(), nil
}

func (repo *sessionRepository) CreateSession(sess session.Session) (session.Session, error) {
	q := `INSERT INTO sessions (sphere_id, title, slug, description, requirements,
		presenter_name, host_id, participants_limit, min_age, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id`
	err := sqlx.Get(repo.ext, &sess.ID, q,
		sess.SphereID, sess.Title, sess.Slug, sess.Description, sess.Requirements,
		sess.PresenterName, sess.HostID, sess.ParticipantsLimit, sess.MinAge,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "inserting session")
	}
	return sess, nil
}

func (repo *sessionRepository) GetSessionByID(id int) (session.Session, error) {
	var row dbSession
	q := `SELECT * FROM sessions WHERE id = $1`
	if err := sqlx.Get(repo.ext, &row, q, id); err != nil {
		return session.Session{}, trapErr(err, session.ErrNotFound, "getting session")
	}
	return row.toCore(), nil
}

func (repo *sessionRepository) GetSessionBySlug(sphereID int, slug string) (session.Session, error) {
	var row dbSession
	q := `SELECT * FROM sessions WHERE sphere_id = $1 AND slug = $2 ORDER BY id LIMIT 1`
	if err := sqlx.Get(repo.ext, &row, q, sphereID, slug); err != nil {
		return session.Session{}, trapErr(err, session.ErrNotFound, "getting session")
	}
	return row.toCore(), nil
}

func (repo *sessionRepository) QuerySessionsByEvent(eventID int) ([]session.Session, error) {
	var rows []dbSession
	q := `SELECT s.* FROM sessions s
	JOIN agenda_items ai ON ai.session_id = s.id
	JOIN spaces sp ON sp.id = ai.space_id
	WHERE sp.event_id = $1
	ORDER BY s.id`
	if err := sqlx.Select(repo.ext, &rows, q, eventID); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	sessions := make([]session.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toCore())
	}
	return sessions, nil
}

func (repo *sessionRepository) UpdateSession(sess session.Session) (session.Session, error) {
	q := `UPDATE sessions SET title = $1, slug = $2, description = $3, requirements = $4,
		presenter_name = $5, participants_limit = $6, min_age = $7, updated_at = $8
	WHERE id = $9`
	res, err := repo.ext.Exec(q,
		sess.Title, sess.Slug, sess.Description, sess.Requirements,
		sess.PresenterName, sess.ParticipantsLimit, sess.MinAge, sess.UpdatedAt, sess.ID)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "updating session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

func (repo *sessionRepository) CreateAgendaItem(ai session.AgendaItem) (session.AgendaItem, error) {
	q := `INSERT INTO agenda_items (session_id, space_id, start_time, end_time, session_confirmed)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id`
	err := sqlx.Get(repo.ext, &ai.ID, q,
		ai.SessionID, ai.SpaceID, ai.StartTime, ai.EndTime, ai.SessionConfirmed)
	if err != nil {
		return session.AgendaItem{}, errors.Wrap(err, "inserting agenda item")
	}
	return ai, nil
}

func (repo *sessionRepository) GetAgendaItemBySession(sessionID int) (session.AgendaItem, error) {
	var row dbAgendaItem
	q := `SELECT * FROM agenda_items WHERE session_id = $1`
	if err := sqlx.Get(repo.ext, &row, q, sessionID); err != nil {
		return session.AgendaItem{}, trapErr(err, session.ErrAgendaItemNotFound, "getting agenda item")
	}
	return row.toCore(), nil
}

func (repo *sessionRepository) UpdateAgendaItem(ai session.AgendaItem) (session.AgendaItem, error) {
	q := `UPDATE agenda_items SET space_id = $1, start_time = $2, end_time = $3, session_confirmed = $4
	WHERE id = $5`
	res, err := repo.ext.Exec(q, ai.SpaceID, ai.StartTime, ai.EndTime, ai.SessionConfirmed, ai.ID)
	if err != nil {
		return session.AgendaItem{}, errors.Wrap(err, "updating agenda item")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.AgendaItem{}, session.ErrAgendaItemNotFound
	}
	return ai, nil
}

func (repo *sessionRepository) CreateParticipation(p session.SessionParticipation) (session.SessionParticipation, error) {
	q := `INSERT INTO session_participations (session_id, user_id, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id`
	err := sqlx.Get(repo.ext, &p.ID, q, p.SessionID, p.UserID, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return session.SessionParticipation{}, errors.Wrap(err, "inserting participation")
	}
	return p, nil
}

func (repo *sessionRepository) GetParticipation(sessionID int, userID string) (session.SessionParticipation, error) {
	var row dbParticipation
	q := `SELECT * FROM session_participations WHERE session_id = $1 AND user_id = $2`
	if err := sqlx.Get(repo.ext, &row, q, sessionID, userID); err != nil {
		return session.SessionParticipation{}, trapErr(err, session.ErrParticipationMissing, "getting participation")
	}
	return row.toCore(), nil
}

func (repo *sessionRepository) QueryParticipationsBySession(sessionID int) ([]session.SessionParticipation, error) {
	var rows []dbParticipation
	q := `SELECT * FROM session_participations WHERE session_id = $1 ORDER BY created_at, id`
	if err := sqlx.Select(repo.ext, &rows, q, sessionID); err != nil {
		return nil, errors.Wrap(err, "querying participations")
	}
	return toCoreParticipations(rows), nil
}

func (repo *sessionRepository) QueryParticipationsByUser(userID string) ([]session.SessionParticipation, error) {
	var rows []dbParticipation
	q := `SELECT * FROM session_participations WHERE user_id = $1 ORDER BY created_at, id`
	if err := sqlx.Select(repo.ext, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying participations")
	}
	return toCoreParticipations(rows), nil
}

func (repo *sessionRepository) UpdateParticipation(p session.SessionParticipation) (session.SessionParticipation, error) {
	q := `UPDATE session_participations SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := repo.ext.Exec(q, p.Status, p.UpdatedAt, p.ID)
	if err != nil {
		return session.SessionParticipation{}, errors.Wrap(err, "updating participation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.SessionParticipation{}, session.ErrParticipationMissing
	}
	return p, nil
}

func (repo *sessionRepository) DeleteParticipation(id int) error {
	q := `DELETE FROM session_participations WHERE id = $1`
	if _, err := repo.ext.Exec(q, id); err != nil {
		return errors.Wrap(err, "deleting participation")
	}
	return nil
}

func (repo *sessionRepository) CountConfirmedBySession(sessionID int) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM session_participations WHERE session_id = $1 AND status = $2`
	if err := sqlx.Get(repo.ext, &count, q, sessionID, session.StatusConfirmed); err != nil {
		return 0, errors.Wrap(err, "counting confirmed participations")
	}
	return count, nil
}

func (repo *sessionRepository) CountWaitingInEvent(eventID int, userID string) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM session_participations p
	JOIN agenda_items ai ON ai.session_id = p.session_id
	JOIN spaces sp ON sp.id = ai.space_id
	WHERE sp.event_id = $1 AND p.user_id = $2 AND p.status = $3`
	if err := sqlx.Get(repo.ext, &count, q, eventID, userID, session.StatusWaiting); err != nil {
		return 0, errors.Wrap(err, "counting waiting participations")
	}
	return count, nil
}

func (repo *sessionRepository) CountDistinctConfirmedUsers(eventID int, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	var count int
	q := `SELECT COUNT(DISTINCT p.user_id) FROM session_participations p
	JOIN agenda_items ai ON ai.session_id = p.session_id
	JOIN spaces sp ON sp.id = ai.space_id
	WHERE sp.event_id = $1 AND p.status = $2 AND p.user_id = ANY($3)`
	if err := sqlx.Get(repo.ext, &count, q, eventID, session.StatusConfirmed, pq.Array(userIDs)); err != nil {
		return 0, errors.Wrap(err, "counting distinct confirmed users")
	}
	return count, nil
}

func (repo *sessionRepository) HasTimeConflict(sphereID, excludeSessionID int, userID string, start, end time.Time) (bool, error) {
	var conflict bool
	q := `SELECT EXISTS (
		SELECT 1 FROM session_participations p
		JOIN sessions s ON s.id = p.session_id
		JOIN agenda_items ai ON ai.session_id = p.session_id
		WHERE s.sphere_id = $1 AND p.user_id = $2 AND p.status = $3
			AND p.session_id <> $4
			AND ai.start_time < $5 AND $6 < ai.end_time
	)`
	err := sqlx.Get(repo.ext, &conflict, q,
		sphereID, userID, session.StatusConfirmed, excludeSessionID, end, start)
	if err != nil {
		return false, errors.Wrap(err, "checking time conflict")
	}
	return conflict, nil
}

func toCoreParticipations(rows []dbParticipation) []session.SessionParticipation {
	parts := make([]session.SessionParticipation, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, row.toCore())
	}
	return parts
}
