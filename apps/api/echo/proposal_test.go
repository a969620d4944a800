package echoapi_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	echoapi "github.com/fancysnake/ludamus/apps/api/echo"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/proposal"
)

func Test_proposalApi_categories(t *testing.T) {
	setup(t)

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	if err := evtSvc.AddManager(sphere, manager.ID); err != nil {
		t.Fatalf("adding manager: %v", err)
	}
	pleb := createUser(t, "Pleb", "plebgm", "pleb@test.cd", nil, true)
	ev := createEvent(t, "Summer Con")

	body := marchallObj(t, proposal.NewCategory{
		Name:                 "One Shots",
		MinParticipantsLimit: 2,
		MaxParticipantsLimit: 6,
	})
	path := "/v1/events/" + ev.Slug + "/proposal-categories"

	tests := []httpTest{
		{name: "create: auth required", method: http.MethodPost, body: body, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "create: manager required", method: http.MethodPost, body: body, token: getToken(t, pleb), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "create", method: http.MethodPost, body: body, token: getToken(t, manager), wantCode: http.StatusCreated},
		{
			name: "create: bounds required", method: http.MethodPost, token: getToken(t, manager),
			body:     marchallObj(t, proposal.NewCategory{Name: "Broken", MinParticipantsLimit: 4, MaxParticipantsLimit: 2}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"max_participants_limit": "max_participants_limit must be greater than or equal to MinParticipantsLimit"}),
		},
		{name: "query is public", method: http.MethodGet, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.path = path

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantData == nil {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_proposalApi_submit(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Summer Con")
	cat, err := propSvc.CreateCategory(ev, proposal.NewCategory{
		Name:                 "One Shots",
		MinParticipantsLimit: 2,
		MaxParticipantsLimit: 6,
	})
	if err != nil {
		t.Fatalf("creating category: %v", err)
	}
	host := createUser(t, "Hosty", "hostgm", "host@test.cd", nil, true)
	token := getToken(t, host)

	newProp := func(categoryID, limit int) []byte {
		return marchallObj(t, echoapi.SubmitProposalRequest{
			CategoryID: categoryID,
			NewProposal: proposal.NewProposal{
				Title:             "Goblin Heist",
				PresenterName:     "Hosty",
				ParticipantsLimit: limit,
			},
		})
	}
	path := "/v1/events/" + ev.Slug + "/proposals"

	tests := []httpTest{
		{name: "auth required", body: newProp(cat.ID, 4), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "unknown category", body: newProp(999, 4), token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{
			name: "limit out of the category bounds", body: newProp(cat.ID, 10), token: token, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"participants_limit": proposal.ErrParticipantsLimitOutOfBounds.Error()}),
		},
		{name: "submitted", body: newProp(cat.ID, 4), token: token, wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = path

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
				}
				var prop proposal.Proposal
				if err := json.Unmarshal(rec.Body.Bytes(), &prop); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if prop.Status != proposal.StatusCreated || prop.HostID != host.ID {
					t.Errorf("failed! proposal = %+v", prop)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_proposalApi_acceptAndReject(t *testing.T) {
	setup(t)

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	if err := evtSvc.AddManager(sphere, manager.ID); err != nil {
		t.Fatalf("adding manager: %v", err)
	}
	token := getToken(t, manager)

	ev := createEvent(t, "Summer Con")
	cat, err := propSvc.CreateCategory(ev, proposal.NewCategory{
		Name: "One Shots", MinParticipantsLimit: 2, MaxParticipantsLimit: 6})
	if err != nil {
		t.Fatalf("creating category: %v", err)
	}
	host := createUser(t, "Hosty", "hostgm", "host@test.cd", nil, true)

	submit := func(title string) proposal.Proposal {
		prop, err := propSvc.Submit(ev, cat, host, proposal.NewProposal{
			Title: title, PresenterName: "Hosty", ParticipantsLimit: 4})
		if err != nil {
			t.Fatalf("submitting proposal: %v", err)
		}
		return prop
	}
	accepted := submit("Goblin Heist")
	rejected := submit("Dull Lecture")

	sp, err := evtSvc.CreateSpace(ev, event.NewSpace{Name: "Main Hall"})
	if err != nil {
		t.Fatalf("creating space: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	ts, err := evtSvc.CreateTimeSlot(ev, event.NewTimeSlot{
		StartTime: now.Add(13 * time.Hour), EndTime: now.Add(15 * time.Hour)})
	if err != nil {
		t.Fatalf("creating time slot: %v", err)
	}

	// accept schedules the proposal as a session
	req, rec := newAuthRequest(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", accepted.ID), token,
		marchallObj(t, echoapi.AcceptProposalRequest{SpaceID: sp.ID, TimeSlotID: ts.ID}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var accResp echoapi.AcceptProposalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &accResp); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if accResp.Proposal.Status != proposal.StatusAccepted {
		t.Errorf("failed! proposal = %+v", accResp.Proposal)
	}
	if accResp.Session.Title != accepted.Title {
		t.Errorf("failed! session = %+v", accResp.Session)
	}
	ai, err := sessSvc.GetAgendaItem(accResp.Session)
	if err != nil {
		t.Fatalf("GetAgendaItem() failed: %v", err)
	}
	if !ai.SessionConfirmed || ai.SpaceID != sp.ID {
		t.Errorf("failed! agenda item = %+v", ai)
	}

	// a resolved proposal cannot be accepted again
	req, rec = newAuthRequest(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", accepted.ID), token,
		marchallObj(t, echoapi.AcceptProposalRequest{SpaceID: sp.ID, TimeSlotID: ts.ID}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: proposal.ErrAlreadyResolved.Error()}),
	}, rec)

	// reject
	req, rec = newAuthRequest(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/reject", rejected.ID), token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var rejResp proposal.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &rejResp); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if rejResp.Status != proposal.StatusRejected {
		t.Errorf("failed! proposal = %+v", rejResp)
	}

	// unknown proposal
	req, rec = newAuthRequest(http.MethodPost, "/v1/proposals/999/reject", token)
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}, rec)
}
