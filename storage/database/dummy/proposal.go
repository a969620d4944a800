package dummydb

import (
	"sort"

	"github.com/fancysnake/ludamus/core/proposal"
)

type proposalRepository struct {
	db *DB
}

var _ proposal.Repository = (*proposalRepository)(nil) // interface compliance check

func NewProposalRepository(db *DB) proposal.Repository {
	return &proposalRepository{db: db}
}

func (repo *proposalRepository) CreateCategory(cat proposal.Category) (proposal.Category, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cat.ID = repo.db.nextID()
	repo.db.categories[cat.ID] = &cat
	return cat, nil
}

func (repo *proposalRepository) QueryCategoriesByEvent(eventID int) ([]proposal.Category, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var categories []proposal.Category
	for _, cat := range repo.db.categories {
		if cat.EventID == eventID {
			categories = append(categories, *cat)
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return categories, nil
}

func (repo *proposalRepository) GetCategoryByID(id int) (proposal.Category, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cat, ok := repo.db.categories[id]; ok {
		return *cat, nil
	}
	return proposal.Category{}, proposal.ErrCategoryNotFound
}

func (repo *proposalRepository) CreateProposal(prop proposal.Proposal) (proposal.Proposal, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	prop.ID = repo.db.nextID()
	repo.db.proposals[prop.ID] = &prop
	return prop, nil
}

func (repo *proposalRepository) GetProposalByID(id int) (proposal.Proposal, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if prop, ok := repo.db.proposals[id]; ok {
		return *prop, nil
	}
	return proposal.Proposal{}, proposal.ErrNotFound
}

func (repo *proposalRepository) QueryProposalsByEvent(eventID int) ([]proposal.Proposal, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var proposals []proposal.Proposal
	for _, prop := range repo.db.proposals {
		cat, ok := repo.db.categories[prop.CategoryID]
		if ok && cat.EventID == eventID {
			proposals = append(proposals, *prop)
		}
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].ID < proposals[j].ID })
	return proposals, nil
}

func (repo *proposalRepository) QueryProposalsByCategory(categoryID int) ([]proposal.Proposal, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var proposals []proposal.Proposal
	for _, prop := range repo.db.proposals {
		if prop.CategoryID == categoryID {
			proposals = append(proposals, *prop)
		}
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].ID < proposals[j].ID })
	return proposals, nil
}

func (repo *proposalRepository) UpdateProposal(prop proposal.Proposal) (proposal.Proposal, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.proposals[prop.ID]; !ok {
		return proposal.Proposal{}, proposal.ErrNotFound
	}
	repo.db.proposals[prop.ID] = &prop
	return prop, nil
}
