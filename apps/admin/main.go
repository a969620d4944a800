package main

import (
	"log"
	"os"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
	emailsvc "github.com/fancysnake/ludamus/services/email"
	membershipsvc "github.com/fancysnake/ludamus/services/membership"
	logsvc "github.com/fancysnake/ludamus/services/logger"
	"github.com/fancysnake/ludamus/storage/database"
	sqlxrepos "github.com/fancysnake/ludamus/storage/database/sqlx"
)

var logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

func main() {
	defer os.Exit(0)

	// set up DB
	errAndDie(database.CreateIfNotExist(core.Conf))
	db, err := database.Open(core.Conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(db.Ping())

	rollbar := logsvc.NewRollbarLogger(logger, core.Conf)
	rollbar.Enable(!core.Conf.Debug)

	// start CLI
	cli := commandLine{
		db:     db,
		usrSvc: user.NewService(sqlxrepos.NewUserRepository(db), emailsvc.NewConsoleService()),
		evtSvc: event.NewService(sqlxrepos.NewEventRepository(db), membershipsvc.NewClient(rollbar)),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
