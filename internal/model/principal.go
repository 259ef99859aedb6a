package model

import "time"

// Principal is the stored record of a student, teacher or admin. Fields that
// do not apply to Role are left empty.
type Principal struct {
	ID           string    `json:"id"`
	Role         Role      `json:"user"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Identifier   string    `json:"identifier,omitempty"`
	Course       string    `json:"course,omitempty"`
	Department   string    `json:"department,omitempty"`
	Designation  string    `json:"designation,omitempty"`
	Avatar       string    `json:"avatar"`
	PasswordHash string    `json:"-"`
	RefreshToken *string   `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PrincipalView is the only shape of a principal that leaves the service.
type PrincipalView struct {
	ID               string    `json:"id"`
	User             Role      `json:"user"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	UniversityRollNo string    `json:"universityRollNo,omitempty"`
	Course           string    `json:"course,omitempty"`
	EmployeeID       string    `json:"employeeId,omitempty"`
	Department       string    `json:"department,omitempty"`
	Designation      string    `json:"role,omitempty"`
	Avatar           string    `json:"avatar"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (p Principal) View() PrincipalView {
	view := PrincipalView{
		ID:          p.ID,
		User:        p.Role,
		Name:        p.Name,
		Email:       p.Email,
		Phone:       p.Phone,
		Course:      p.Course,
		Department:  p.Department,
		Designation: p.Designation,
		Avatar:      p.Avatar,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}

	switch p.Role {
	case RoleStudent:
		view.UniversityRollNo = p.Identifier
	case RoleTeacher:
		view.EmployeeID = p.Identifier
	}

	return view
}

// HasSession reports whether a refresh token is currently stored.
func (p Principal) HasSession() bool {
	return p.RefreshToken != nil && *p.RefreshToken != ""
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type LoginResult struct {
	Principal PrincipalView `json:"principal"`
	TokenPair
}

// RegisterInput carries every field any role can register with; the role's
// Descriptor decides which of them are required.
type RegisterInput struct {
	Name        string
	Email       string
	Phone       string
	Password    string
	Identifier  string
	Course      string
	Department  string
	Designation string
}

// ProfileInput is a partial update. Empty strings mean "keep".
type ProfileInput struct {
	Name        string
	Email       string
	Phone       string
	Course      string
	Department  string
	Designation string
}

func (in ProfileInput) Empty() bool {
	return in.Name == "" && in.Email == "" && in.Phone == "" &&
		in.Course == "" && in.Department == "" && in.Designation == ""
}
