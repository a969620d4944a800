package echoapi_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	echoapi "github.com/fancysnake/ludamus/apps/api/echo"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
)

func Test_eventApi_query(t *testing.T) {
	setup(t)

	ev1 := createEvent(t, "Summer Con")
	ev2 := createEvent(t, "Winter Con")

	tests := []httpTest{
		{name: "unknown sphere", host: "nobody.example.com", wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{name: "all events", wantCode: http.StatusOK, wantData: marchallList(t, ev1, ev2)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/v1/events"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path)
			if tt.host != "" {
				req.Host = tt.host
			}
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_eventApi_retrieve(t *testing.T) {
	setup(t)

	ev := createEvent(t, "Summer Con")
	now := time.Now().UTC()

	tests := []httpTest{
		{name: "unknown slug", path: "/v1/events/lol", wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{
			name: "found", path: "/v1/events/" + ev.Slug, wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.EventResponse{Event: ev, Status: ev.Status(now)}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_eventApi_create(t *testing.T) {
	setup(t)

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	pleb := createUser(t, "Pleb", "plebgm", "pleb@test.cd", nil, true)
	admin := createUser(t, "Admin", "adminx", "admin@test.cd", user.AllRoles, true)
	if err := evtSvc.AddManager(sphere, manager.ID); err != nil {
		t.Fatalf("adding manager: %v", err)
	}

	now := time.Now().UTC()
	body := marchallObj(t, event.NewEvent{
		Name:      "Summer Con",
		StartTime: now.Add(24 * time.Hour),
		EndTime:   now.Add(48 * time.Hour),
	})
	badTimes := marchallObj(t, event.NewEvent{
		Name:      "Backwards Con",
		StartTime: now.Add(48 * time.Hour),
		EndTime:   now.Add(24 * time.Hour),
	})

	tests := []httpTest{
		{name: "Auth required", body: body, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Manager required", body: body, token: getToken(t, pleb), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "Created by manager", body: body, token: getToken(t, manager), wantCode: http.StatusCreated},
		{
			name: "Duplicate slug", body: body, token: getToken(t, manager), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"name": event.ErrSlugExists.Error()}),
		},
		{
			name: "Invalid times", body: badTimes, token: getToken(t, manager), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"end_time": "the event must start before it ends"}),
		},
		{name: "Created by admin", body: marchallObj(t, event.NewEvent{Name: "Admin Con"}), token: getToken(t, admin), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/events"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_eventApi_timeSlots(t *testing.T) {
	setup(t)

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	if err := evtSvc.AddManager(sphere, manager.ID); err != nil {
		t.Fatalf("adding manager: %v", err)
	}
	token := getToken(t, manager)
	ev := createEvent(t, "Summer Con")

	now := time.Now().UTC().Truncate(time.Second)
	slot := event.NewTimeSlot{StartTime: now.Add(12 * time.Hour), EndTime: now.Add(16 * time.Hour)}
	touching := event.NewTimeSlot{StartTime: now.Add(16 * time.Hour), EndTime: now.Add(20 * time.Hour)}
	overlapping := event.NewTimeSlot{StartTime: now.Add(14 * time.Hour), EndTime: now.Add(18 * time.Hour)}

	tests := []httpTest{
		{name: "create", body: marchallObj(t, slot), wantCode: http.StatusCreated},
		{name: "touching endpoints allowed", body: marchallObj(t, touching), wantCode: http.StatusCreated},
		{
			name: "overlap rejected", body: marchallObj(t, overlapping), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"start_time": event.ErrTimeSlotOverlap.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = fmt.Sprintf("/v1/events/%s/time-slots", ev.Slug)

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}

	// slots are listed in chronological order
	req, rec := newRequest(http.MethodGet, fmt.Sprintf("/v1/events/%s/time-slots", ev.Slug))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query failed! code = %v", rec.Code)
	}
	var slots []event.TimeSlot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("failed! got %d slots", len(slots))
	}
}

func Test_eventApi_grants(t *testing.T) {
	setup(t)

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	if err := evtSvc.AddManager(sphere, manager.ID); err != nil {
		t.Fatalf("adding manager: %v", err)
	}
	pleb := createUser(t, "Pleb", "plebgm", "pleb@test.cd", nil, true)
	token := getToken(t, manager)

	ev := createEvent(t, "Summer Con")
	cfg := createEnrollmentConfig(t, ev, false, 0)

	userGrant := marchallObj(t, event.NewUserGrant{UserEmail: "gm@test.cd", AllowedSlots: 2})
	domainGrant := marchallObj(t, event.NewDomainGrant{Domain: "test.cd", AllowedSlotsPerUser: 1})

	tests := []httpTest{
		{
			name: "user grant: manager required", path: fmt.Sprintf("/v1/enrollment-configs/%d/user-grants", cfg.ID),
			body: userGrant, token: getToken(t, pleb), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "user grant: unknown config", path: "/v1/enrollment-configs/999/user-grants",
			body: userGrant, token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound),
		},
		{
			name: "user grant: created", path: fmt.Sprintf("/v1/enrollment-configs/%d/user-grants", cfg.ID),
			body: userGrant, token: token, wantCode: http.StatusCreated,
		},
		{
			name: "user grant: duplicate", path: fmt.Sprintf("/v1/enrollment-configs/%d/user-grants", cfg.ID),
			body: userGrant, token: token, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"user_email": event.ErrGrantExists.Error()}),
		},
		{
			name: "domain grant: created", path: fmt.Sprintf("/v1/enrollment-configs/%d/domain-grants", cfg.ID),
			body: domainGrant, token: token, wantCode: http.StatusCreated,
		},
		{
			name: "domain grant: duplicate", path: fmt.Sprintf("/v1/enrollment-configs/%d/domain-grants", cfg.ID),
			body: domainGrant, token: token, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"domain": event.ErrGrantExists.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_eventApi_anonymousCodes(t *testing.T) {
	setup(t)

	closed := createEvent(t, "Closed Con")
	open := createEvent(t, "Open Con")
	createEnrollmentConfig(t, open, true /* anonymous */, 0)

	// activation refused while no active config allows anonymous enrollment
	req, rec := newRequest(http.MethodPost, "/v1/events/"+closed.Slug+"/anonymous")
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: "anonymous enrollment is not open on this event"}),
	}, rec)

	// activation issues a fresh code and token
	req, rec = newRequest(http.MethodPost, "/v1/events/"+open.Slug+"/anonymous")
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("activate failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var activated echoapi.AnonymousResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &activated); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if activated.Code == "" || activated.Token == "" {
		t.Fatalf("failed! empty code or token: %+v", activated)
	}

	// an activated code can be loaded again on the same sphere
	req, rec = newRequest(http.MethodPost, "/v1/anonymous/load", marchallObj(t, echoapi.AnonymousLoadRequest{Code: activated.Code}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("load failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var loaded echoapi.AnonymousResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &loaded); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if loaded.Code != activated.Code || loaded.Token == "" {
		t.Errorf("failed! loaded = %+v", loaded)
	}

	// unknown codes are rejected
	req, rec = newRequest(http.MethodPost, "/v1/anonymous/load", marchallObj(t, echoapi.AnonymousLoadRequest{Code: "NOPE"}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"code": "unknown enrollment code"}),
	}, rec)

	// a code only resolves on the sphere it was activated on
	other := db.AddSphere(event.Sphere{Name: "Other Con", Domain: "other.ludamus.test", IsOpen: true})
	req, rec = newRequest(http.MethodPost, "/v1/anonymous/load", marchallObj(t, echoapi.AnonymousLoadRequest{Code: activated.Code}))
	req.Host = other.Domain
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"code": "unknown enrollment code"}),
	}, rec)
}
