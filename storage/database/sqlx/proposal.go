package sqlxrepos

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core/proposal"
)

type dbCategory struct {
	ID                   int       `db:"id"`
	EventID              int       `db:"event_id"`
	Name                 string    `db:"name"`
	Slug                 string    `db:"slug"`
	StartTime            null.Time `db:"start_time"`
	EndTime              null.Time `db:"end_time"`
	MinParticipantsLimit int       `db:"min_participants_limit"`
	MaxParticipantsLimit int       `db:"max_participants_limit"`
}

func (c dbCategory) toCore() proposal.Category {
	return proposal.Category{
		ID:                   c.ID,
		EventID:              c.EventID,
		Name:                 c.Name,
		Slug:                 c.Slug,
		StartTime:            c.StartTime,
		EndTime:              c.EndTime,
		MinParticipantsLimit: c.MinParticipantsLimit,
		MaxParticipantsLimit: c.MaxParticipantsLimit,
	}
}

type dbProposal struct {
	ID                int       `db:"id"`
	CategoryID        int       `db:"category_id"`
	Title             string    `db:"title"`
	Description       string    `db:"description"`
	Requirements      string    `db:"requirements"`
	Needs             string    `db:"needs"`
	HostID            string    `db:"host_id"`
	PresenterName     string    `db:"presenter_name"`
	ParticipantsLimit int       `db:"participants_limit"`
	MinAge            int       `db:"min_age"`
	Status            string    `db:"status"`
	SessionID         null.Int  `db:"session_id"`
	CreatedAt         time.Time `db:"created_at"`
}

func (p dbProposal) toCore() proposal.Proposal {
	return proposal.Proposal{
		ID:                p.ID,
		CategoryID:        p.CategoryID,
		Title:             p.Title,
		Description:       p.Description,
		Requirements:      p.Requirements,
		Needs:             p.Needs,
		HostID:            p.HostID,
		PresenterName:     p.PresenterName,
		ParticipantsLimit: p.ParticipantsLimit,
		MinAge:            p.MinAge,
		Status:            p.Status,
		SessionID:         p.SessionID,
		CreatedAt:         p.CreatedAt,
	}
}

type proposalRepository struct {
	db *sqlx.DB
}

var _ proposal.Repository = (*proposalRepository)(nil) // interface compliance check

func NewProposalRepository(db *sqlx.DB) proposal.Repository {
	return &proposalRepository{db: db}
}

func (repo *proposalRepository) CreateCategory(cat proposal.Category) (proposal.Category, error) {
	q := `INSERT INTO proposal_categories (event_id, name, slug, start_time, end_time,
		min_participants_limit, max_participants_limit)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`
	err := repo.db.Get(&cat.ID, q,
		cat.EventID, cat.Name, cat.Slug, cat.StartTime, cat.EndTime,
		cat.MinParticipantsLimit, cat.MaxParticipantsLimit)
	if err != nil {
		return proposal.Category{}, errors.Wrap(err, "inserting proposal category")
	}
	return cat, nil
}

func (repo *proposalRepository) QueryCategoriesByEvent(eventID int) ([]proposal.Category, error) {
	var rows []dbCategory
	q := `SELECT * FROM proposal_categories WHERE event_id = $1 ORDER BY id`
	if err := repo.db.Select(&rows, q, eventID); err != nil {
		return nil, errors.Wrap(err, "querying proposal categories")
	}
	cats := make([]proposal.Category, 0, len(rows))
	for _, row := range rows {
		cats = append(cats, row.toCore())
	}
	return cats, nil
}

func (repo *proposalRepository) GetCategoryByID(id int) (proposal.Category, error) {
	var row dbCategory
	q := `SELECT * FROM proposal_categories WHERE id = $1`
	if err := repo.db.Get(&row, q, id); err != nil {
		return proposal.Category{}, trapErr(err, proposal.ErrCategoryNotFound, "getting proposal category")
	}
	return row.toCore(), nil
}

func (repo *proposalRepository) CreateProposal(prop proposal.Proposal) (proposal.Proposal, error) {
	q := `INSERT INTO proposals (category_id, title, description, requirements, needs,
		host_id, presenter_name, participants_limit, min_age, status, session_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`
	err := repo.db.Get(&prop.ID, q,
		prop.CategoryID, prop.Title, prop.Description, prop.Requirements, prop.Needs,
		prop.HostID, prop.PresenterName, prop.ParticipantsLimit, prop.MinAge,
		prop.Status, prop.SessionID, prop.CreatedAt)
	if err != nil {
		return proposal.Proposal{}, errors.Wrap(err, "inserting proposal")
	}
	return prop, nil
}

func (repo *proposalRepository) GetProposalByID(id int) (proposal.Proposal, error) {
	var row dbProposal
	q := `SELECT * FROM proposals WHERE id = $1`
	if err := repo.db.Get(&row, q, id); err != nil {
		return proposal.Proposal{}, trapErr(err, proposal.ErrNotFound, "getting proposal")
	}
	return row.toCore(), nil
}

func (repo *proposalRepository) QueryProposalsByEvent(eventID int) ([]proposal.Proposal, error) {
	var rows []dbProposal
	q := `SELECT p.* FROM proposals p
	JOIN proposal_categories c ON c.id = p.category_id
	WHERE c.event_id = $1
	ORDER BY p.id`
	if err := repo.db.Select(&rows, q, eventID); err != nil {
		return nil, errors.Wrap(err, "querying proposals")
	}
	return toCoreProposals(rows), nil
}

func (repo *proposalRepository) QueryProposalsByCategory(categoryID int) ([]proposal.Proposal, error) {
	var rows []dbProposal
	q := `SELECT * FROM proposals WHERE category_id = $1 ORDER BY id`
	if err := repo.db.Select(&rows, q, categoryID); err != nil {
		return nil, errors.Wrap(err, "querying proposals")
	}
	return toCoreProposals(rows), nil
}

func (repo *proposalRepository) UpdateProposal(prop proposal.Proposal) (proposal.Proposal, error) {
	q := `UPDATE proposals SET status = $1, session_id = $2 WHERE id = $3`
	res, err := repo.db.Exec(q, prop.Status, prop.SessionID, prop.ID)
	if err != nil {
		return proposal.Proposal{}, errors.Wrap(err, "updating proposal")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return proposal.Proposal{}, proposal.ErrNotFound
	}
	return prop, nil
}

func toCoreProposals(rows []dbProposal) []proposal.Proposal {
	proposals := make([]proposal.Proposal, 0, len(rows))
	for _, row := range rows {
		proposals = append(proposals, row.toCore())
	}
	return proposals
}
