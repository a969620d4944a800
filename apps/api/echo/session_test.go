package echoapi_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	echoapi "github.com/fancysnake/ludamus/apps/api/echo"
	"github.com/fancysnake/ludamus/core/session"
	"github.com/fancysnake/ludamus/core/user"
)

func enrollPath(sess session.Session) string {
	return fmt.Sprintf("/v1/sessions/%d/enrollment", sess.ID)
}

func Test_sessionApi_queryAndRetrieve(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Summer Con")
	now := time.Now().UTC()
	sess := createSession(t, ev, "Goblin Heist", 4, now.Add(13*time.Hour), now.Add(15*time.Hour))

	// query by event
	req, rec := newRequest(http.MethodGet, "/v1/events/"+ev.Slug+"/sessions")
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query failed! code = %v", rec.Code)
	}
	var sessions []session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sess.ID {
		t.Fatalf("failed! sessions = %+v", sessions)
	}

	// retrieve includes the agenda item
	req, rec = newRequest(http.MethodGet, fmt.Sprintf("/v1/sessions/%d", sess.ID))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("retrieve failed! code = %v", rec.Code)
	}
	var detail echoapi.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if detail.ID != sess.ID || detail.AgendaItem.SessionID != sess.ID {
		t.Errorf("failed! detail = %+v", detail)
	}

	// unknown session
	req, rec = newRequest(http.MethodGet, "/v1/sessions/999")
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}, rec)
}

func Test_sessionApi_choices(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Summer Con")
	createEnrollmentConfig(t, ev, false, 2)
	now := time.Now().UTC()
	sess := createSession(t, ev, "Goblin Heist", 4, now.Add(13*time.Hour), now.Add(15*time.Hour))

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	kiddo, err := usrSvc.CreateConnected(manager, user.NewConnectedUser{
		Name: "Kiddo", BirthDate: time.Date(2010, time.March, 12, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("creating connected user: %v", err)
	}

	req, rec := newAuthRequest(http.MethodGet, enrollPath(sess), getToken(t, manager))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("choices failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var choices []session.UserChoices
	if err := json.Unmarshal(rec.Body.Bytes(), &choices); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if len(choices) != 2 {
		t.Fatalf("failed! got %d user choices", len(choices))
	}
	byID := map[string]session.UserChoices{}
	for _, uc := range choices {
		byID[uc.UserID] = uc
	}
	if _, ok := byID[manager.ID]; !ok {
		t.Error("missing choices for the manager")
	}
	if _, ok := byID[kiddo.ID]; !ok {
		t.Error("missing choices for the connected user")
	}
}

func Test_sessionApi_enroll(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Summer Con")
	createEnrollmentConfig(t, ev, false, 2)
	now := time.Now().UTC()
	sess := createSession(t, ev, "Goblin Heist", 2, now.Add(13*time.Hour), now.Add(15*time.Hour))
	small := createSession(t, ev, "Tiny Table", 1, now.Add(16*time.Hour), now.Add(18*time.Hour))

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	stranger := createUser(t, "Stranger", "strangr", "stranger@test.cd", nil, true)
	kiddo, err := usrSvc.CreateConnected(manager, user.NewConnectedUser{
		Name: "Kiddo", BirthDate: time.Date(2010, time.March, 12, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("creating connected user: %v", err)
	}
	token := getToken(t, manager)

	// requests for users outside the household are rejected
	req, rec := newAuthRequest(http.MethodPost, enrollPath(sess), token, marchallObj(t, session.EnrollmentBatch{
		Requests: []session.EnrollmentRequest{{UserID: stranger.ID, Action: session.ActionEnroll}},
	}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)

	// manager enrolls the whole household in one batch
	req, rec = newAuthRequest(http.MethodPost, enrollPath(sess), token, marchallObj(t, session.EnrollmentBatch{
		Requests: []session.EnrollmentRequest{
			{UserID: manager.ID, Action: session.ActionEnroll},
			{UserID: kiddo.ID, Action: session.ActionEnroll},
		},
	}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var result session.EnrollmentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if len(result.Enrolled) != 2 {
		t.Fatalf("failed! result = %+v", result)
	}

	// a batch exceeding the remaining capacity is rejected as a whole
	req, rec = newAuthRequest(http.MethodPost, enrollPath(small), token, marchallObj(t, session.EnrollmentBatch{
		Requests: []session.EnrollmentRequest{
			{UserID: manager.ID, Action: session.ActionEnroll},
			{UserID: kiddo.ID, Action: session.ActionEnroll},
		},
	}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: session.ErrInsufficientCapacity.Error()}),
	}, rec)
}

func Test_sessionApi_enrollClosed(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Summer Con") // no enrollment config
	now := time.Now().UTC()
	sess := createSession(t, ev, "Goblin Heist", 4, now.Add(13*time.Hour), now.Add(15*time.Hour))
	usr := createUser(t, "Hero", "herogm", "hero@test.cd", nil, true)

	req, rec := newAuthRequest(http.MethodPost, enrollPath(sess), getToken(t, usr), marchallObj(t, session.EnrollmentBatch{
		Requests: []session.EnrollmentRequest{{UserID: usr.ID, Action: session.ActionEnroll}},
	}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: session.ErrEnrollmentClosed.Error()}),
	}, rec)
}

func Test_sessionApi_cancelPromotesWaitlist(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Summer Con")
	createEnrollmentConfig(t, ev, false, 2)
	now := time.Now().UTC()
	sess := createSession(t, ev, "Goblin Heist", 1, now.Add(13*time.Hour), now.Add(15*time.Hour))

	first := createUser(t, "First", "firstg", "first@test.cd", nil, true)
	second := createUser(t, "Second", "secndg", "second@test.cd", nil, true)

	// fill the only spot, then queue up
	req, rec := newAuthRequest(http.MethodPost, enrollPath(sess), getToken(t, first), marchallObj(t, session.EnrollmentBatch{
		Requests: []session.EnrollmentRequest{{UserID: first.ID, Action: session.ActionEnroll}},
	}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	req, rec = newAuthRequest(http.MethodPost, enrollPath(sess), getToken(t, second), marchallObj(t, session.EnrollmentBatch{
		Requests: []session.EnrollmentRequest{{UserID: second.ID, Action: session.ActionWaitlist}},
	}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("waitlist failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}

	// cancelling the confirmed spot promotes the oldest waiting participant
	req, rec = newAuthRequest(http.MethodPost, enrollPath(sess), getToken(t, first), marchallObj(t, session.EnrollmentBatch{
		Requests: []session.EnrollmentRequest{{UserID: first.ID, Action: session.ActionCancel}},
	}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var result session.EnrollmentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if len(result.Cancelled) != 1 || len(result.Promoted) != 1 || result.Promoted[0] != second.Name {
		t.Errorf("failed! result = %+v", result)
	}
}

func Test_sessionApi_anonymousEnroll(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Open Con")
	createEnrollmentConfig(t, ev, true /* anonymous */, 0)
	now := time.Now().UTC()
	sess := createSession(t, ev, "Goblin Heist", 4, now.Add(13*time.Hour), now.Add(15*time.Hour))

	// activate a code
	req, rec := newRequest(http.MethodPost, "/v1/events/"+ev.Slug+"/anonymous")
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("activate failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var activated echoapi.AnonymousResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &activated); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}

	// regular tokens cannot use the anonymous endpoints
	usr := createUser(t, "Hero", "herogm", "hero@test.cd", nil, true)
	req, rec = newAuthRequest(http.MethodPost, enrollPath(sess)+"/anonymous", getToken(t, usr),
		marchallObj(t, echoapi.AnonymousEnrollRequest{Action: session.ActionEnroll, Name: "Sneaky"}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)

	// the code holder enrolls themselves under a display name
	req, rec = newAuthRequest(http.MethodPost, enrollPath(sess)+"/anonymous", activated.Token,
		marchallObj(t, echoapi.AnonymousEnrollRequest{Action: session.ActionEnroll, Name: "Masked GM"}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous enroll failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var result session.EnrollmentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if len(result.Enrolled) != 1 || result.Enrolled[0] != "Masked GM" {
		t.Errorf("failed! result = %+v", result)
	}
}
