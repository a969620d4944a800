package session

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
)

// choice labels
const (
	labelNoChange      = "No change"
	labelEnroll        = "Enroll"
	labelEnrollIfSpots = "Enroll (if spots available)"
	labelJoinWaitlist  = "Join waiting list"
	labelMoveWaitlist  = "Move to waiting list"
	labelCancel        = "Cancel enrollment"
)

// userEnrollmentState is the pre-computed state a user's choices derive from.
type userEnrollmentState struct {
	participation   *SessionParticipation
	hasConflict     bool
	meetsAge        bool
	canJoinWaitlist bool
	canEnroll       bool
}

// Choices resolves the legal enrollment actions for each user on a session at
// the given time.
func (svc *service) Choices(sess Session, users []user.User, now time.Time) ([]UserChoices, error) {
	ev, ai, err := svc.EventFor(sess)
	if err != nil {
		return nil, err
	}
	cfg, hasConfig, err := svc.eventSvc.MostLiberalConfig(ev, ai.StartTime, now)
	if err != nil {
		return nil, err
	}

	out := make([]UserChoices, 0, len(users))
	for i := range users {
		state, err := svc.enrollmentState(sess, ev, ai, cfg, hasConfig, users[i])
		if err != nil {
			return nil, err
		}
		out = append(out, buildChoices(sess, users[i], state))
	}
	return out, nil
}

func (svc *service) enrollmentState(sess Session, ev event.Event, ai AgendaItem,
	cfg event.EnrollmentConfig, hasConfig bool, usr user.User) (userEnrollmentState, error) {

	state := userEnrollmentState{canEnroll: hasConfig}

	p, err := svc.repo.GetParticipation(sess.ID, usr.ID)
	switch errors.Cause(err) {
	case nil:
		state.participation = &p
	case ErrParticipationMissing:
	default:
		return userEnrollmentState{}, err
	}

	if sess.MinAge == 0 {
		state.meetsAge = true
	} else if age := usr.Age(ai.StartTime); age >= sess.MinAge {
		state.meetsAge = true
	}

	state.hasConflict, err = svc.repo.HasTimeConflict(sess.SphereID, sess.ID, usr.ID, ai.StartTime, ai.EndTime)
	if err != nil {
		return userEnrollmentState{}, err
	}

	if hasConfig && cfg.MaxWaitlistSessions > 0 {
		waiting, err := svc.repo.CountWaitingInEvent(ev.ID, usr.ID)
		if err != nil {
			return userEnrollmentState{}, err
		}
		state.canJoinWaitlist = waiting < cfg.MaxWaitlistSessions
	}
	return state, nil
}

func buildChoices(sess Session, usr user.User, state userEnrollmentState) UserChoices {
	uc := UserChoices{
		UserID:   usr.ID,
		UserName: usr.Name,
		Choices:  []Choice{{Action: "", Label: labelNoChange}},
	}
	if state.participation != nil {
		uc.Status = state.participation.Status
	}

	if !state.meetsAge {
		uc.Choices[0].Label = fmt.Sprintf("%s (%s)", labelNoChange, reasonAgeRestriction)
		uc.HelpText = fmt.Sprintf("Must be at least %d years old", sess.MinAge)
		return uc
	}

	if state.participation != nil {
		switch state.participation.Status {
		case StatusConfirmed:
			uc.Choices = append(uc.Choices, Choice{Action: ActionCancel, Label: labelCancel})
			if state.canJoinWaitlist {
				uc.Choices = append(uc.Choices, Choice{Action: ActionWaitlist, Label: labelMoveWaitlist})
			}
		case StatusWaiting:
			uc.Choices = append(uc.Choices, Choice{Action: ActionCancel, Label: labelCancel})
			if state.canEnroll {
				uc.Choices = append(uc.Choices, Choice{Action: ActionEnroll, Label: labelEnrollIfSpots})
			}
		}
		return uc
	}

	if state.hasConflict {
		if state.canJoinWaitlist {
			uc.Choices = append(uc.Choices, Choice{Action: ActionWaitlist, Label: labelJoinWaitlist})
		} else {
			uc.Choices[0].Label = fmt.Sprintf("%s (%s)", labelNoChange, reasonTimeConflict)
		}
		uc.HelpText = "Time conflict detected"
		return uc
	}

	if state.canEnroll {
		uc.Choices = append(uc.Choices, Choice{Action: ActionEnroll, Label: labelEnroll})
	}
	if state.canJoinWaitlist {
		uc.Choices = append(uc.Choices, Choice{Action: ActionWaitlist, Label: labelJoinWaitlist})
	}
	return uc
}
