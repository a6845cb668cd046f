package model

// Role is the coarse audience split of the menu tree. It matches the Role
// column values written by the 1C import.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleNewcomer Role = "newcomer"
)

// IsValidRole checks whether a stored role value is one we understand.
func IsValidRole(r Role) bool {
	return r == RoleEmployee || r == RoleNewcomer
}
