package user

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/fancysnake/ludamus/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Staff
	RoleStaff = "staff:"
)

// User types.
//
// An active user registered themselves and can log in. A connected user is a
// companion profile managed by an active user (no credentials of its own).
// An anonymous user is identified solely by an enrollment code.
const (
	TypeActive    = "active"
	TypeConnected = "connected"
	TypeAnonymous = "anonymous"
)

var (
	AdminRoles = []string{RoleAdmin, RoleAdminOwner}
	StaffRoles = []string{RoleStaff}
	AllRoles   = getAllRoles()

	Roles = []Role{
		{Name: "Staff", Value: RoleStaff},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 3)
	all = append(all, AdminRoles...)
	all = append(all, StaffRoles...)
	return all
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Username     string      `json:"username"`
	Slug         string      `json:"slug"`
	Email        string      `json:"email"`
	UserType     string      `json:"user_type"`
	ManagerID    null.String `json:"manager_id,omitempty"`
	BirthDate    null.Time   `json:"birth_date,omitempty"`
	IsActive     bool        `json:"is_active"`
	Roles        []string    `json:"roles"`
	PasswordHash []byte      `json:"-"`
	CreatedAt    time.Time   `json:"created_at"` // UTC
	UpdatedAt    time.Time   `json:"updated_at"` // UTC
	LastLogin    time.Time   `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool { return u.RoleStartsWith(RoleAdmin) }
func (u *User) IsStaff() bool { return u.RoleStartsWith(RoleStaff) }

func (u *User) IsConnected() bool { return u.UserType == TypeConnected }
func (u *User) IsAnonymous() bool { return u.UserType == TypeAnonymous }

// Age returns the user's age in full years at the given time; -1 when the
// birth date is unknown.
func (u *User) Age(at time.Time) int {
	if !u.BirthDate.Valid {
		return -1
	}
	bd := u.BirthDate.Time
	age := at.Year() - bd.Year()
	if at.Month() < bd.Month() || (at.Month() == bd.Month() && at.Day() < bd.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age
}

// EmailDomain returns the lowered domain part of the user's email.
func (u *User) EmailDomain() string { return core.EmailDomain(u.Email) }

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string    `json:"name" validate:"required"`
	Username        string    `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string    `json:"email" validate:"omitempty,email"`
	BirthDate       time.Time `json:"birth_date" validate:"omitempty,pastdate"`
	Password        string    `json:"password" validate:"required"`
	PasswordConfirm string    `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string  `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := core.Validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string    `json:"name"`
	Username        string    `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string    `json:"email" validate:"omitempty,email"`
	BirthDate       time.Time `json:"birth_date" validate:"omitempty,pastdate"`
	IsActive        *bool     `json:"is_active"`
	Roles           []string  `json:"roles" validate:"omitempty,allroles"`
	Password        string    `json:"password" validate:"omitempty"`
	PasswordConfirm string    `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(origUsr User, svc Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := core.Validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(uu.Username, uu.Email, origUsr)
}

// NewConnectedUser contains information needed to attach a connected user to a manager.
// Connected users have no credentials; they only exist to be enrolled alongside their manager.
type NewConnectedUser struct {
	Name      string    `json:"name" validate:"required"`
	BirthDate time.Time `json:"birth_date" validate:"required,pastdate"`
}

func (ncu *NewConnectedUser) Validate() error {
	ncu.Name = core.CleanString(ncu.Name)
	return core.Validate.Struct(ncu)
}

// UpdateConnectedUser defines what information may be provided to modify a connected user.
type UpdateConnectedUser struct {
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birth_date" validate:"omitempty,pastdate"`
}

func (ucu *UpdateConnectedUser) Validate(origUsr User) error {
	name := core.CleanString(ucu.Name)
	if name != "" {
		ucu.Name = name
	} else {
		ucu.Name = origUsr.Name
	}
	if ucu.BirthDate.IsZero() {
		ucu.BirthDate = origUsr.BirthDate.Time
	}
	return core.Validate.Struct(ucu)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate() error { return core.Validate.Struct(rp) }

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	UserType    string    `query:"user_type"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.UserType == "" && qf.IsActive == nil &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.UserType = core.CleanString(qf.UserType, true /* lower */)
}
