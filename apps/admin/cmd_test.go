package main

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
	emailsvc "github.com/fancysnake/ludamus/services/email"
	dummydb "github.com/fancysnake/ludamus/storage/database/dummy"
)

var (
	testDB *dummydb.DB
	usrSvc user.Service
	evtSvc event.Service
)

func setup(t *testing.T) *commandLine {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	testDB = db
	usrSvc = user.NewServiceMock(dummydb.NewUserRepository(db), emailsvc.NewConsoleServiceMock())
	evtSvc = event.NewService(dummydb.NewEventRepository(db), nil)

	return &commandLine{
		usrSvc: usrSvc,
		evtSvc: evtSvc,
	}
}

func mustTime(t *testing.T, v string) time.Time {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t.Fatalf("parsing time %s: %v", v, err)
	}
	return ts
}

type cliTest struct {
	name    string
	args    []string // without program name
	wantErr error
	pwd     string
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var called bool
	migrateFunc = func(db *sqlx.DB) error {
		called = true
		return nil
	}

	if err := cli.run([]string{"admin", "migrate"}); err != nil {
		t.Errorf("cli.run() unexpected error = %v", err)
	}
	if !called {
		t.Error("migrate was not run")
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "name but no password", args: []string{"adduser", "-name", "Jane GM"}, wantErr: errHelp},
		{name: "create", args: []string{"adduser", "-name", "Jane GM", "-username", "janegm", "-email", "jane@test.cd"}, pwd: "LocalHero!"},
		{name: "create admin", args: []string{"adduser", "-name", "Boss GM", "-email", "boss@test.cd", "-admin"}, pwd: "LocalHero!"},
		{name: "duplicate email", args: []string{"adduser", "-name", "Jane Again", "-email", "jane@test.cd"}, pwd: "LocalHero!", wantErr: user.ErrEmailExists},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			return []byte(tt.pwd), nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("cli.run() expected an error")
				}
				return
			}
			if err != nil {
				t.Errorf("cli.run() unexpected error = %v", err)
			}
		})
	}

	usr, err := usrSvc.GetByEmail("boss@test.cd")
	if err != nil {
		t.Fatalf("GetByEmail() failed, %v", err)
	}
	if len(usr.Roles) == 0 {
		t.Error("admin user has no roles")
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr, err := usrSvc.Create(user.NewUser{
		Name: "User", Username: "aweawe", Email: "awe@test.cd",
		Password: "OldPwd!234", PasswordConfirm: "OldPwd!234",
	})
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "NewPwd!234"},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, pwd: "NewerPwd!234"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			return []byte(tt.pwd), nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := usrSvc.GetByID(usr.ID)
				if err != nil {
					t.Fatalf("GetByID() failed, %v", err)
				}
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_addGrant(t *testing.T) {
	cli := setup(t)

	sphere := testDB.AddSphere(event.Sphere{Name: "Goblins Guild", Domain: "goblins.test", IsOpen: true})
	ev, err := evtSvc.Create(sphere, event.NewEvent{
		Name:      "Summer Con",
		StartTime: mustTime(t, "2026-07-01T10:00:00Z"),
		EndTime:   mustTime(t, "2026-07-03T20:00:00Z"),
	})
	if err != nil {
		t.Fatalf("creating event: %v", err)
	}
	cfg, err := evtSvc.CreateEnrollmentConfig(ev, event.NewEnrollmentConfig{
		StartTime:       mustTime(t, "2026-06-01T10:00:00Z"),
		EndTime:         mustTime(t, "2026-07-03T20:00:00Z"),
		PercentageSlots: 100,
	})
	if err != nil {
		t.Fatalf("creating enrollment config: %v", err)
	}

	tests := []cliTest{
		{name: "no args", args: []string{"addgrant"}, wantErr: errHelp},
		{name: "no recipient", args: []string{"addgrant", "-config", "1", "-slots", "2"}, wantErr: errHelp},
		{name: "unknown config", args: []string{"addgrant", "-config", "999", "-email", "gm@test.cd", "-slots", "2"}, wantErr: event.ErrConfigNotFound},
		{name: "user grant", args: []string{"addgrant", "-config", strconv.Itoa(cfg.ID), "-email", "gm@test.cd", "-slots", "2"}},
		{name: "domain grant", args: []string{"addgrant", "-config", strconv.Itoa(cfg.ID), "-domain", "test.cd", "-slots", "1"}},
		{name: "duplicate user grant", args: []string{"addgrant", "-config", strconv.Itoa(cfg.ID), "-email", "gm@test.cd", "-slots", "3"}, wantErr: event.ErrGrantExists},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("cli.run() expected an error")
				}
				return
			}
			if err != nil {
				t.Errorf("cli.run() unexpected error = %v", err)
			}
		})
	}
}
