package model

import "strings"

type RegisterRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Password         string `json:"password"`
	UniversityRollNo string `json:"universityRollNo"`
	Course           string `json:"course"`
	EmployeeID       string `json:"employeeId"`
	Department       string `json:"department"`
	Designation      string `json:"role"`
}

// Input maps the wire request onto the role-neutral RegisterInput.
func (r RegisterRequest) Input(role Role) RegisterInput {
	in := RegisterInput{
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Password:    r.Password,
		Course:      r.Course,
		Department:  r.Department,
		Designation: r.Designation,
	}

	switch role {
	case RoleStudent:
		in.Identifier = r.UniversityRollNo
	case RoleTeacher:
		in.Identifier = r.EmployeeID
	}

	return in
}

// LoginRequest accepts either an email or the role-specific identifier.
type LoginRequest struct {
	Email            string `json:"email"`
	UniversityRollNo string `json:"universityRollNo"`
	EmployeeID       string `json:"employeeId"`
	Password         string `json:"password"`
}

// Identifier picks the first non-blank of email, roll number and employee id.
func (r LoginRequest) Identifier() string {
	for _, candidate := range []string{r.Email, r.UniversityRollNo, r.EmployeeID} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type UpdateDetailsRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Course      string `json:"course"`
	Department  string `json:"department"`
	Designation string `json:"role"`
}

func (r UpdateDetailsRequest) Input() ProfileInput {
	return ProfileInput{
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Course:      r.Course,
		Department:  r.Department,
		Designation: r.Designation,
	}
}
