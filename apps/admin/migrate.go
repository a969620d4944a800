package main

import (
	"github.com/fancysnake/ludamus/storage/database"
)

var migrateFunc = database.Migrate // mockable

func (cli *commandLine) migrate() error {
	if err := migrateFunc(cli.db); err != nil {
		return err
	}
	logger.Print("migrations applied")
	return nil
}
