package dummydb

import (
	"sort"
	"time"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/session"
)

type sessionRepository struct {
	db *DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db}
}

// InTx serializes batches; the in-memory store has no rollback.
func (repo *sessionRepository) InTx(fn func(tx session.Repository) error) error {
	repo.db.txMu.Lock()
	defer repo.db.txMu.Unlock()
	return fn(repo)
}

func (repo *sessionRepository) LockSession(id int) (session.Session, error) {
	return repo.GetSessionByID(id)
}

func (repo *sessionRepository) CreateSession(sess session.Session) (session.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess.ID = repo.db.nextID()
	repo.db.sessions[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) GetSessionByID(id int) (session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sess, ok := repo.db.sessions[id]; ok {
		return *sess, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) GetSessionBySlug(sphereID int, slug string) (session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, sess := range repo.db.sessions {
		if sess.SphereID == sphereID && sess.Slug == slug {
			return *sess, nil
		}
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) QuerySessionsByEvent(eventID int) ([]session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var sessions []session.Session
	for _, ai := range repo.db.agendaItems {
		if repo.eventIDForAgendaItem(ai.SpaceID) != eventID {
			continue
		}
		if sess, ok := repo.db.sessions[ai.SessionID]; ok {
			sessions = append(sessions, *sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

func (repo *sessionRepository) UpdateSession(sess session.Session) (session.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.sessions[sess.ID]; !ok {
		return session.Session{}, session.ErrNotFound
	}
	repo.db.sessions[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) CreateAgendaItem(ai session.AgendaItem) (session.AgendaItem, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ai.ID = repo.db.nextID()
	repo.db.agendaItems[ai.ID] = &ai
	return ai, nil
}

func (repo *sessionRepository) GetAgendaItemBySession(sessionID int) (session.AgendaItem, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, ai := range repo.db.agendaItems {
		if ai.SessionID == sessionID {
			return *ai, nil
		}
	}
	return session.AgendaItem{}, session.ErrAgendaItemNotFound
}

func (repo *sessionRepository) UpdateAgendaItem(ai session.AgendaItem) (session.AgendaItem, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.agendaItems[ai.ID]; !ok {
		return session.AgendaItem{}, session.ErrAgendaItemNotFound
	}
	repo.db.agendaItems[ai.ID] = &ai
	return ai, nil
}

func (repo *sessionRepository) CreateParticipation(p session.SessionParticipation) (session.SessionParticipation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.ID = repo.db.nextID()
	repo.db.participations[p.ID] = &p
	return p, nil
}

func (repo *sessionRepository) GetParticipation(sessionID int, userID string) (session.SessionParticipation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, p := range repo.db.participations {
		if p.SessionID == sessionID && p.UserID == userID {
			return *p, nil
		}
	}
	return session.SessionParticipation{}, session.ErrParticipationMissing
}

func (repo *sessionRepository) QueryParticipationsBySession(sessionID int) ([]session.SessionParticipation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var participations []session.SessionParticipation
	for _, p := range repo.db.participations {
		if p.SessionID == sessionID {
			participations = append(participations, *p)
		}
	}
	sort.Slice(participations, func(i, j int) bool {
		return participations[i].CreatedAt.Before(participations[j].CreatedAt)
	})
	return participations, nil
}

func (repo *sessionRepository) QueryParticipationsByUser(userID string) ([]session.SessionParticipation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var participations []session.SessionParticipation
	for _, p := range repo.db.participations {
		if p.UserID == userID {
			participations = append(participations, *p)
		}
	}
	sort.Slice(participations, func(i, j int) bool {
		return participations[i].CreatedAt.Before(participations[j].CreatedAt)
	})
	return participations, nil
}

func (repo *sessionRepository) UpdateParticipation(p session.SessionParticipation) (session.SessionParticipation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.participations[p.ID]; !ok {
		return session.SessionParticipation{}, session.ErrParticipationMissing
	}
	repo.db.participations[p.ID] = &p
	return p, nil
}

func (repo *sessionRepository) DeleteParticipation(id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.participations[id]; !ok {
		return session.ErrParticipationMissing
	}
	delete(repo.db.participations, id)
	return nil
}

func (repo *sessionRepository) CountConfirmedBySession(sessionID int) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, p := range repo.db.participations {
		if p.SessionID == sessionID && p.Status == session.StatusConfirmed {
			count++
		}
	}
	return count, nil
}

func (repo *sessionRepository) CountWaitingInEvent(eventID int, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, p := range repo.db.participations {
		if p.UserID == userID && p.Status == session.StatusWaiting &&
			repo.eventIDForSession(p.SessionID) == eventID {
			count++
		}
	}
	return count, nil
}

func (repo *sessionRepository) CountDistinctConfirmedUsers(eventID int, userIDs []string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	seen := make(map[string]bool)
	for _, p := range repo.db.participations {
		if p.Status == session.StatusConfirmed && wanted[p.UserID] &&
			repo.eventIDForSession(p.SessionID) == eventID {
			seen[p.UserID] = true
		}
	}
	return len(seen), nil
}

func (repo *sessionRepository) HasTimeConflict(sphereID, excludeSessionID int, userID string, start, end time.Time) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, p := range repo.db.participations {
		if p.UserID != userID || p.Status != session.StatusConfirmed || p.SessionID == excludeSessionID {
			continue
		}
		sess, ok := repo.db.sessions[p.SessionID]
		if !ok || sess.SphereID != sphereID {
			continue
		}
		for _, ai := range repo.db.agendaItems {
			if ai.SessionID == p.SessionID && core.Overlaps(start, end, ai.StartTime, ai.EndTime) {
				return true, nil
			}
		}
	}
	return false, nil
}

// eventIDForSession must be called with at least the read lock held.
func (repo *sessionRepository) eventIDForSession(sessionID int) int {
	for _, ai := range repo.db.agendaItems {
		if ai.SessionID == sessionID {
			return repo.eventIDForAgendaItem(ai.SpaceID)
		}
	}
	return 0
}

func (repo *sessionRepository) eventIDForAgendaItem(spaceID int) int {
	if sp, ok := repo.db.spaces[spaceID]; ok {
		return sp.EventID
	}
	return 0
}
