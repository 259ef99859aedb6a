package model

import "strings"

// Role is the principal kind a record or token belongs to. The set is closed:
// every Role value in use comes from Roles.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Roles lists every principal kind, in routing order.
var Roles = []Role{RoleStudent, RoleTeacher, RoleAdmin}

// ParseRole accepts a role tag as carried in tokens and URLs.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleTeacher:
		return RoleTeacher, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Descriptor captures everything that differs between principal kinds: the
// collection they live in, their role-specific unique identifier and the
// closed vocabularies of their profile fields.
type Descriptor struct {
	Role       Role
	Collection string
	// IdentifierField is the JSON name of the role-specific unique
	// identifier. Empty when the role has none.
	IdentifierField string
	Courses         []string
	Departments     []string
	Designations    []string
}

func (d Descriptor) HasIdentifier() bool {
	return d.IdentifierField != ""
}

var descriptors = map[Role]Descriptor{
	RoleStudent: {
		Role:            RoleStudent,
		Collection:      "students",
		IdentifierField: "universityRollNo",
		Courses:         []string{"BCA", "MCA", "B.Tech", "Others"},
	},
	RoleTeacher: {
		Role:            RoleTeacher,
		Collection:      "teachers",
		IdentifierField: "employeeId",
		Departments:     []string{"BCA", "MCA", "CSE", "IT", "ECE", "MECH", "Others"},
		Designations:    []string{"HOD", "Professor", "Assistant Professor", "Lab Assistant", "Others"},
	},
	RoleAdmin: {
		Role:       RoleAdmin,
		Collection: "admins",
	},
}

// DescriptorFor panics on a Role that did not come from ParseRole or Roles.
func DescriptorFor(role Role) Descriptor {
	d, ok := descriptors[role]
	if !ok {
		panic("model: unknown role " + string(role))
	}
	return d
}
