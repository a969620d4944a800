package session

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
)

// skip reasons
const (
	reasonNotEnrolled     = "not enrolled"
	reasonAlreadyEnrolled = "already enrolled"
	reasonWaitlistFull    = "waitlist limit exceeded"
	reasonSlotsExhausted  = "enrollment slot limit reached"
	reasonAgeRestriction  = "age restriction"
	reasonTimeConflict    = "time conflict"
	reasonIsHost          = "session host"
	reasonAccessRequired  = "enrollment access required"
)

// ProcessEnrollment runs a batch of enrollment requests against a session.
// The whole batch runs in one transaction with the session row locked; the
// requested enroll actions are capacity-validated up front and the batch is
// rejected as a whole when they cannot all fit.
func (svc *service) ProcessEnrollment(sess Session, requests []EnrollmentRequest, now time.Time) (EnrollmentResult, error) {
	ev, ai, err := svc.EventFor(sess)
	if err != nil {
		return EnrollmentResult{}, err
	}
	cfg, ok, err := svc.eventSvc.MostLiberalConfig(ev, ai.StartTime, now)
	if err != nil {
		return EnrollmentResult{}, err
	}
	if !ok {
		return EnrollmentResult{}, core.NewValidationError(ErrEnrollmentClosed)
	}

	var result EnrollmentResult
	err = svc.repo.InTx(func(tx Repository) error {
		locked, err := tx.LockSession(sess.ID)
		if err != nil {
			return err
		}

		reqs, err := svc.prepareRequests(tx, ev, cfg, requests, now)
		if err != nil {
			return err
		}

		if err = svc.validateCapacity(tx, locked, cfg, reqs); err != nil {
			return err
		}

		for i := range reqs {
			switch reqs[i].Action {
			case ActionCancel:
				err = svc.processCancellation(tx, locked, ev, ai, cfg, &reqs[i], now, &result)
			case ActionEnroll:
				err = svc.processEnrollment(tx, locked, ai, &reqs[i], now, &result)
			case ActionWaitlist:
				err = svc.processWaitlist(tx, locked, ev, ai, cfg, &reqs[i], now, &result)
			default: // dropped by the grant gate
				result.Skipped = append(result.Skipped, reqs[i].Name)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return EnrollmentResult{}, err
	}
	return result, nil
}

// resolvedRequest carries the request with its resolved user.
type resolvedRequest struct {
	EnrollmentRequest
	usr user.User
}

// prepareRequests resolves users and applies the slot-grant limits: enroll
// requests by users whose manager's grant is exhausted are downgraded to
// waitlist when the waitlist cap still allows it, or skipped when the config
// restricts enrollment to configured users and no grant exists.
func (svc *service) prepareRequests(tx Repository, ev event.Event, cfg event.EnrollmentConfig,
	requests []EnrollmentRequest, now time.Time) ([]resolvedRequest, error) {

	reqs := make([]resolvedRequest, 0, len(requests))
	for _, req := range requests {
		usr, err := svc.userSvc.GetByID(req.UserID)
		if err != nil {
			return nil, err
		}
		if req.Name == "" {
			req.Name = usr.Name
		}
		reqs = append(reqs, resolvedRequest{EnrollmentRequest: req, usr: usr})
	}

	for i := range reqs {
		if reqs[i].Action != ActionEnroll {
			continue
		}
		_, hasGrant, available, err := svc.grantSlots(tx, ev, reqs[i].usr, now)
		if err != nil {
			return nil, err
		}

		if !hasGrant {
			if cfg.RestrictToConfiguredUsers {
				reqs[i].Action = "" // resolved later as a skip
				reqs[i].Name = fmt.Sprintf("%s (%s)", reqs[i].Name, reasonAccessRequired)
			}
			continue
		}
		if available > 0 {
			continue
		}
		// grant exhausted: silently downgrade to waitlist when possible,
		// otherwise the request is skipped
		downgraded := false
		if cfg.MaxWaitlistSessions > 0 {
			waiting, err := tx.CountWaitingInEvent(ev.ID, reqs[i].usr.ID)
			if err != nil {
				return nil, err
			}
			if waiting < cfg.MaxWaitlistSessions {
				reqs[i].Action = ActionWaitlist
				downgraded = true
			}
		}
		if !downgraded {
			reqs[i].Action = ""
			reqs[i].Name = fmt.Sprintf("%s (%s)", reqs[i].Name, reasonSlotsExhausted)
		}
	}
	return reqs, nil
}

// validateCapacity rejects the whole batch when the remaining enroll requests
// exceed the session's available spots under the governing config.
func (svc *service) validateCapacity(tx Repository, sess Session, cfg event.EnrollmentConfig, reqs []resolvedRequest) error {
	var enrollCount int
	for i := range reqs {
		if reqs[i].Action == ActionEnroll {
			enrollCount++
		}
	}
	if enrollCount == 0 {
		return nil
	}

	confirmed, err := tx.CountConfirmedBySession(sess.ID)
	if err != nil {
		return err
	}
	available := cfg.EffectiveCapacity(sess.ParticipantsLimit) - confirmed
	if available < 0 {
		available = 0
	}
	if enrollCount > available {
		return core.NewValidationError(ErrInsufficientCapacity)
	}
	return nil
}

func (svc *service) processCancellation(tx Repository, sess Session, ev event.Event, ai AgendaItem,
	cfg event.EnrollmentConfig, req *resolvedRequest, now time.Time, result *EnrollmentResult) error {

	participation, err := tx.GetParticipation(sess.ID, req.usr.ID)
	if errors.Cause(err) == ErrParticipationMissing {
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s (%s)", req.Name, reasonNotEnrolled))
		return nil
	}
	if err != nil {
		return err
	}

	wasConfirmed := participation.Status == StatusConfirmed
	if err = tx.DeleteParticipation(participation.ID); err != nil {
		return err
	}
	result.Cancelled = append(result.Cancelled, req.Name)

	if wasConfirmed {
		return svc.promoteFromWaitlist(tx, sess, ev, ai, req.usr.ID, now, result)
	}
	return nil
}

func (svc *service) processEnrollment(tx Repository, sess Session, ai AgendaItem,
	req *resolvedRequest, now time.Time, result *EnrollmentResult) error {

	if reason, err := svc.enrollBlockReason(tx, sess, ai, req.usr); err != nil {
		return err
	} else if reason != "" {
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s (%s)", req.Name, reason))
		return nil
	}

	if existing, err := tx.GetParticipation(sess.ID, req.usr.ID); err == nil {
		if existing.Status == StatusWaiting {
			// waiting participants may confirm in place; the batch capacity
			// check already accounted for this enroll
			existing.Status = StatusConfirmed
			existing.UpdatedAt = now.UTC()
			if _, err = tx.UpdateParticipation(existing); err != nil {
				return err
			}
			result.Enrolled = append(result.Enrolled, req.Name)
			return nil
		}
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s (%s)", req.Name, reasonAlreadyEnrolled))
		return nil
	} else if errors.Cause(err) != ErrParticipationMissing {
		return err
	}

	_, err := tx.CreateParticipation(SessionParticipation{
		SessionID: sess.ID,
		UserID:    req.usr.ID,
		Status:    StatusConfirmed,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	})
	if err != nil {
		return err
	}
	result.Enrolled = append(result.Enrolled, req.Name)
	return nil
}

func (svc *service) processWaitlist(tx Repository, sess Session, ev event.Event, ai AgendaItem,
	cfg event.EnrollmentConfig, req *resolvedRequest, now time.Time, result *EnrollmentResult) error {

	ok, err := svc.canJoinWaitlist(tx, ev, cfg, req.usr)
	if err != nil {
		return err
	}
	if !ok {
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s (%s)", req.Name, reasonWaitlistFull))
		return nil
	}

	if existing, err := tx.GetParticipation(sess.ID, req.usr.ID); err == nil {
		if existing.Status == StatusConfirmed {
			// confirmed participants may step down to the waiting list; the
			// vacated slot goes to the next eligible waiting participant
			existing.Status = StatusWaiting
			existing.UpdatedAt = now.UTC()
			if _, err = tx.UpdateParticipation(existing); err != nil {
				return err
			}
			result.Waitlisted = append(result.Waitlisted, req.Name)
			return svc.promoteFromWaitlist(tx, sess, ev, ai, req.usr.ID, now, result)
		}
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s (%s)", req.Name, reasonAlreadyEnrolled))
		return nil
	} else if errors.Cause(err) != ErrParticipationMissing {
		return err
	}

	_, err = tx.CreateParticipation(SessionParticipation{
		SessionID: sess.ID,
		UserID:    req.usr.ID,
		Status:    StatusWaiting,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	})
	if err != nil {
		return err
	}
	result.Waitlisted = append(result.Waitlisted, req.Name)
	return nil
}

// enrollBlockReason checks age, host status and time conflicts; an empty
// reason means the user may enroll. Conflicts are checked against the user's
// whole schedule in the sphere, not just the session's event.
func (svc *service) enrollBlockReason(tx Repository, sess Session, ai AgendaItem, usr user.User) (string, error) {
	if sess.MinAge > 0 {
		age := usr.Age(ai.StartTime)
		if age < 0 || age < sess.MinAge {
			return reasonAgeRestriction, nil
		}
	}
	if sess.HostID.Valid && sess.HostID.String == usr.ID {
		return reasonIsHost, nil
	}
	conflict, err := tx.HasTimeConflict(sess.SphereID, sess.ID, usr.ID, ai.StartTime, ai.EndTime)
	if err != nil {
		return "", err
	}
	if conflict {
		return reasonTimeConflict, nil
	}
	return "", nil
}

func (svc *service) canJoinWaitlist(tx Repository, ev event.Event, cfg event.EnrollmentConfig, usr user.User) (bool, error) {
	if cfg.MaxWaitlistSessions == 0 {
		return false, nil
	}
	waiting, err := tx.CountWaitingInEvent(ev.ID, usr.ID)
	if err != nil {
		return false, err
	}
	return waiting < cfg.MaxWaitlistSessions, nil
}

// grantSlots resolves the acting manager's slot grant and how many of its
// slots remain. Used slots are the distinct users among the manager and their
// connected users holding a confirmed participation anywhere in the event.
func (svc *service) grantSlots(tx Repository, ev event.Event, usr user.User, now time.Time) (event.SlotGrant, bool, int, error) {
	manager := usr
	if usr.ManagerID.Valid {
		var err error
		manager, err = svc.userSvc.GetByID(usr.ManagerID.String)
		if err != nil {
			return event.SlotGrant{}, false, 0, err
		}
	}
	if manager.Email == "" {
		return event.SlotGrant{}, false, 0, nil
	}

	grant, ok, err := svc.eventSvc.ResolveSlotGrant(ev, manager.Email, now)
	if err != nil || !ok {
		return event.SlotGrant{}, false, 0, err
	}

	connected, err := svc.userSvc.QueryConnected(manager)
	if err != nil {
		return event.SlotGrant{}, false, 0, err
	}
	ids := make([]string, 0, len(connected)+1)
	ids = append(ids, manager.ID)
	for _, c := range connected {
		ids = append(ids, c.ID)
	}

	used, err := tx.CountDistinctConfirmedUsers(ev.ID, ids)
	if err != nil {
		return event.SlotGrant{}, false, 0, err
	}
	available := grant.AllowedSlots - used
	if available < 0 {
		available = 0
	}
	return grant, true, available, nil
}

// promoteFromWaitlist promotes the oldest eligible waiting participant; at
// most one per vacated slot. skipUserID excludes the user who just vacated
// the slot.
func (svc *service) promoteFromWaitlist(tx Repository, sess Session, ev event.Event, ai AgendaItem,
	skipUserID string, now time.Time, result *EnrollmentResult) error {

	participations, err := tx.QueryParticipationsBySession(sess.ID)
	if err != nil {
		return err
	}
	for _, p := range participations {
		if p.Status != StatusWaiting || p.UserID == skipUserID {
			continue
		}
		usr, err := svc.userSvc.GetByID(p.UserID)
		if err != nil {
			return err
		}
		reason, err := svc.enrollBlockReason(tx, sess, ai, usr)
		if err != nil {
			return err
		}
		if reason != "" {
			continue
		}
		if usr.Email != "" || usr.ManagerID.Valid {
			_, hasGrant, available, err := svc.grantSlots(tx, ev, usr, now)
			if err != nil {
				return err
			}
			if hasGrant && available == 0 {
				continue
			}
		}

		p.Status = StatusConfirmed
		p.UpdatedAt = now.UTC()
		if _, err = tx.UpdateParticipation(p); err != nil {
			return err
		}
		result.Promoted = append(result.Promoted, usr.Name)
		svc.notifyPromotion(usr, sess)
		break
	}
	return nil
}

// notifyPromotion emails the promoted user when an address exists.
func (svc *service) notifyPromotion(usr user.User, sess Session) {
	if usr.Email == "" || svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(
		&core.EmailMessage{
			To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject: fmt.Sprintf("You are in: %s", sess.Title),
			BodyStr: fmt.Sprintf(
				"A spot opened up in %q and you have been moved off the waiting list.", sess.Title),
		},
	)
}
