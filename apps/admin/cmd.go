package main

import (
	"errors"
	"flag"
	"fmt"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db     *sqlx.DB
	usrSvc user.Service
	evtSvc event.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate - apply pending database migrations")
	fmt.Println("  adduser -name NAME [-username USERNAME] [-email EMAIL] [-admin] - create a user; the password will be prompted")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  addgrant -config ID (-email EMAIL | -domain DOMAIN) -slots N - add an enrollment slot grant")
	fmt.Println("  addmanager -sphere ID -username USERNAME|EMAIL - make a user a sphere manager")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserIsAdmin := addUserCmd.Bool("admin", false, "Grant all roles to the user.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	addGrantCmd := flag.NewFlagSet("addgrant", flag.ExitOnError)
	addGrantConfig := addGrantCmd.Int("config", 0, "The enrollment config ID.")
	addGrantEmail := addGrantCmd.String("email", "", "The recipient's email (user grant).")
	addGrantDomain := addGrantCmd.String("domain", "", "The recipient email domain (domain grant).")
	addGrantSlots := addGrantCmd.Int("slots", 0, "The number of slots granted per user.")

	addManagerCmd := flag.NewFlagSet("addmanager", flag.ExitOnError)
	addManagerSphere := addManagerCmd.Int("sphere", 0, "The sphere ID.")
	addManagerUname := addManagerCmd.String("username", "", "The user's username or email.")

	switch args[1] {
	case "migrate":
		return cli.migrate()

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserIsAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "addgrant":
		if err := addGrantCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addGrantConfig == 0 || *addGrantSlots == 0 || (*addGrantEmail == "" && *addGrantDomain == "") {
			addGrantCmd.Usage()
			return errHelp
		}
		return cli.addGrant(*addGrantConfig, *addGrantEmail, *addGrantDomain, *addGrantSlots)

	case "addmanager":
		if err := addManagerCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addManagerSphere == 0 || *addManagerUname == "" {
			addManagerCmd.Usage()
			return errHelp
		}
		return cli.addManager(*addManagerSphere, *addManagerUname)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
