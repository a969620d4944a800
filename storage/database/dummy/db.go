package dummydb

import (
	"sync"

	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/proposal"
	"github.com/fancysnake/ludamus/core/session"
	"github.com/fancysnake/ludamus/core/user"
)

// DB is an in-memory database for tests and local development.
type DB struct {
	sync.RWMutex
	txMu sync.Mutex // serializes enrollment batches
	seq  int

	users          map[string]*user.User
	spheres        map[int]*event.Sphere
	sphereManagers map[int]map[string]bool
	events         map[int]*event.Event
	spaces         map[int]*event.Space
	timeSlots      map[int]*event.TimeSlot
	enrollConfigs  map[int]*event.EnrollmentConfig
	domainConfigs  map[int]*event.DomainEnrollmentConfig
	userConfigs    map[int]*event.UserEnrollmentConfig
	sessions       map[int]*session.Session
	agendaItems    map[int]*session.AgendaItem
	participations map[int]*session.SessionParticipation
	categories     map[int]*proposal.Category
	proposals      map[int]*proposal.Proposal
}

func Open() (*DB, error) {
	db := &DB{
		users:          make(map[string]*user.User),
		spheres:        make(map[int]*event.Sphere),
		sphereManagers: make(map[int]map[string]bool),
		events:         make(map[int]*event.Event),
		spaces:         make(map[int]*event.Space),
		timeSlots:      make(map[int]*event.TimeSlot),
		enrollConfigs:  make(map[int]*event.EnrollmentConfig),
		domainConfigs:  make(map[int]*event.DomainEnrollmentConfig),
		userConfigs:    make(map[int]*event.UserEnrollmentConfig),
		sessions:       make(map[int]*session.Session),
		agendaItems:    make(map[int]*session.AgendaItem),
		participations: make(map[int]*session.SessionParticipation),
		categories:     make(map[int]*proposal.Category),
		proposals:      make(map[int]*proposal.Proposal),
	}
	return db, nil
}

// nextID must be called with the write lock held.
func (db *DB) nextID() int {
	db.seq++
	return db.seq
}
