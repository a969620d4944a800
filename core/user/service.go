package user

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core"
)

// anonymous users are keyed by their enrollment code
const anonymousSlugPrefix = "code_"

var (
	// errors
	ErrNotFound             = errors.New("user not found")
	ErrEmailExists          = errors.New("a user with this email already exists")
	ErrUsernameExists       = errors.New("a user with this username already exists")
	ErrConnectedUsersMaxed  = errors.New("maximum number of connected users reached")
	ErrNotConnectedToOwner  = errors.New("connected user does not belong to this manager")
	ErrInvalidResetPassword = errors.New("invalid password reset token")
)

type (
	Repository interface {
		CheckUsernameUniqueness(username, email string, excludedUsers ...User) error
		CreateUser(user User) (User, error)
		QueryAllUsers() ([]User, error)
		GetUserByID(id string) (User, error)
		GetUserByUsername(username string) (User, error)
		GetUserByEmail(email string) (User, error)
		GetUserByUsernameOrEmail(username string) (User, error)
		GetUserBySlug(slug string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		FilterUsers(filter QueryFilter) ([]User, error)
		QueryConnectedUsers(managerID string) ([]User, error)
		CountConnectedUsers(managerID string) (int, error)
		UpdateUser(user User, isActive *bool) (User, error)
		SetUserLastLogin(user User) (User, error)
		DeleteUsersByID(ids ...string) error
	}

	Service interface {
		CheckUniqueness(uname, email string, exclUsers ...User) error
		Create(nu NewUser) (User, error)
		QueryAll() ([]User, error)
		GetByID(id string) (User, error)
		GetByUsername(uname string) (User, error)
		GetByEmail(email string) (User, error)
		GetByUsernameOrEmail(uname string) (User, error)
		Filter(filter QueryFilter) ([]User, error)
		Update(id string, uu UpdateUser) (User, error)
		SetLastLogin(usr User) (User, error)
		Delete(ids ...string) error

		// connected users
		CreateConnected(manager User, ncu NewConnectedUser) (User, error)
		QueryConnected(manager User) ([]User, error)
		GetConnected(manager User, id string) (User, error)
		UpdateConnected(manager User, id string, ucu UpdateConnectedUser) (User, error)
		DeleteConnected(manager User, id string) error

		// anonymous users
		GetAnonymous(code string) (User, error)
		GetOrCreateAnonymous(code string) (User, error)

		// password reset
		RequestPasswordReset(email string) error
		ResetPassword(rp ResetUserPassword) (User, error)
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
	}
}

func (svc *service) CheckUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		ID:        uuid.NewString(),
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		UserType:  TypeActive,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !nu.BirthDate.IsZero() {
		usr.BirthDate = null.TimeFrom(nu.BirthDate)
	}
	usr.Slug = userSlug(usr)
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(usr)
}

func (svc *service) QueryAll() ([]User, error) {
	return svc.repo.QueryAllUsers()
}

func (svc *service) GetByID(id string) (User, error) {
	return svc.repo.GetUserByID(id)
}

func (svc *service) GetByUsername(uname string) (User, error) {
	return svc.repo.GetUserByUsername(core.CleanString(uname, true /* lower */))
}

func (svc *service) GetByEmail(email string) (User, error) {
	return svc.repo.GetUserByEmail(core.CleanString(email, true /* lower */))
}

func (svc *service) GetByUsernameOrEmail(uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(core.CleanString(uname, true /* lower */))
}

func (svc *service) Filter(filter QueryFilter) ([]User, error) {
	filter.Clean()
	return svc.repo.FilterUsers(filter)
}

func (svc *service) Update(id string, uu UpdateUser) (User, error) {
	usr := User{
		ID:        id,
		Name:      uu.Name,
		Username:  uu.Username,
		Email:     uu.Email,
		Roles:     uu.Roles,
		UpdatedAt: time.Now().UTC(),
	}
	if !uu.BirthDate.IsZero() {
		usr.BirthDate = null.TimeFrom(uu.BirthDate)
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "hashing password")
		}
	}
	return svc.repo.UpdateUser(usr, uu.IsActive)
}

func (svc *service) SetLastLogin(usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.SetUserLastLogin(usr)
}

func (svc *service) Delete(ids ...string) error {
	return svc.repo.DeleteUsersByID(ids...)
}

// CreateConnected attaches a new connected user to the manager.
// A manager may have at most Conf.MaxConnectedUsers connected users.
func (svc *service) CreateConnected(manager User, ncu NewConnectedUser) (User, error) {
	count, err := svc.repo.CountConnectedUsers(manager.ID)
	if err != nil {
		return User{}, err
	}
	if count >= core.Conf.MaxConnectedUsers {
		return User{}, core.NewValidationError(ErrConnectedUsersMaxed)
	}

	now := time.Now().UTC()
	usr := User{
		ID:        uuid.NewString(),
		Name:      ncu.Name,
		UserType:  TypeConnected,
		ManagerID: null.StringFrom(manager.ID),
		BirthDate: null.TimeFrom(ncu.BirthDate),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr.Slug = userSlug(usr)
	return svc.repo.CreateUser(usr)
}

func (svc *service) QueryConnected(manager User) ([]User, error) {
	return svc.repo.QueryConnectedUsers(manager.ID)
}

func (svc *service) GetConnected(manager User, id string) (User, error) {
	usr, err := svc.repo.GetUserByID(id)
	if err != nil {
		return User{}, err
	}
	if !usr.IsConnected() || usr.ManagerID.String != manager.ID {
		return User{}, ErrNotConnectedToOwner
	}
	return usr, nil
}

func (svc *service) UpdateConnected(manager User, id string, ucu UpdateConnectedUser) (User, error) {
	if _, err := svc.GetConnected(manager, id); err != nil {
		return User{}, err
	}
	usr := User{
		ID:        id,
		Name:      ucu.Name,
		BirthDate: null.TimeFrom(ucu.BirthDate),
		UpdatedAt: time.Now().UTC(),
	}
	return svc.repo.UpdateUser(usr, nil)
}

func (svc *service) DeleteConnected(manager User, id string) error {
	if _, err := svc.GetConnected(manager, id); err != nil {
		return err
	}
	return svc.repo.DeleteUsersByID(id)
}

// GetAnonymous returns the anonymous user identified by an enrollment code.
func (svc *service) GetAnonymous(code string) (User, error) {
	return svc.repo.GetUserBySlug(anonymousSlugPrefix + code)
}

// GetOrCreateAnonymous returns the anonymous user identified by an enrollment
// code, creating it on first use.
func (svc *service) GetOrCreateAnonymous(code string) (User, error) {
	slug := anonymousSlugPrefix + code
	usr, err := svc.repo.GetUserBySlug(slug)
	if err == nil {
		return usr, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return User{}, err
	}

	now := time.Now().UTC()
	usr = User{
		ID:        uuid.NewString(),
		Name:      slug,
		Slug:      slug,
		UserType:  TypeAnonymous,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateUser(usr)
}

// RequestPasswordReset sends a password reset email to the user with the given email.
func (svc *service) RequestPasswordReset(email string) error {
	usr, err := svc.GetByEmail(email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	token, err := MakeToken(usr)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(
		&core.EmailMessage{
			To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject:      fmt.Sprintf("Password Reset on %s", core.Conf.AppName),
			TemplateName: "password-reset",
			TemplateData: struct {
				User  User
				UID   string
				Token string
			}{usr, EncodeUID(usr), token},
		},
	)
}

// ResetPassword verifies the reset token and sets the user's new password.
func (svc *service) ResetPassword(rp ResetUserPassword) (User, error) {
	id, err := decodeUID(rp.UID)
	if err != nil {
		return User{}, core.NewValidationError(ErrInvalidResetPassword)
	}
	usr, err := svc.repo.GetUserByID(id)
	if err != nil {
		return User{}, core.NewValidationError(ErrInvalidResetPassword)
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return User{}, core.NewValidationError(err)
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(usr, nil)
}

func userSlug(usr User) string {
	base := usr.Username
	if base == "" {
		base = usr.Name
	}
	slug := core.Slugify(base)
	if slug == "" {
		slug = usr.ID[:8]
	}
	return slug
}
