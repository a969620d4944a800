package main

import (
	"github.com/fancysnake/ludamus/core/event"
)

// addGrant attaches a user or domain slot grant to an enrollment config.
func (cli *commandLine) addGrant(configID int, email, domain string, slots int) error {
	cfg, err := cli.evtSvc.GetEnrollmentConfig(configID)
	if err != nil {
		return err
	}

	if email != "" {
		nug := event.NewUserGrant{UserEmail: email, AllowedSlots: slots}
		if err := nug.Validate(); err != nil {
			return err
		}
		grant, err := cli.evtSvc.CreateUserGrant(cfg, nug)
		if err != nil {
			return err
		}
		logger.Printf("created user grant %d (%s: %d slots)", grant.ID, grant.UserEmail, grant.AllowedSlots)
		return nil
	}

	ndg := event.NewDomainGrant{Domain: domain, AllowedSlotsPerUser: slots}
	if err := ndg.Validate(); err != nil {
		return err
	}
	grant, err := cli.evtSvc.CreateDomainGrant(cfg, ndg)
	if err != nil {
		return err
	}
	logger.Printf("created domain grant %d (@%s: %d slots per user)", grant.ID, grant.Domain, grant.AllowedSlotsPerUser)
	return nil
}

// addManager makes an existing user a manager of the sphere.
func (cli *commandLine) addManager(sphereID int, uname string) error {
	sphere, err := cli.evtSvc.GetSphere(sphereID)
	if err != nil {
		return err
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(uname)
	if err != nil {
		return err
	}
	if err := cli.evtSvc.AddManager(sphere, usr.ID); err != nil {
		return err
	}
	logger.Printf("user %s now manages sphere %q", usr.ID, sphere.Name)
	return nil
}
