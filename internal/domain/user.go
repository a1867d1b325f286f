package domain

// Role gates which pipeline transitions a user may perform.
type Role string

const (
	// RoleCoordinador creates orders and handles invoicing and payment.
	RoleCoordinador Role = "coordinador"
	// RoleArmador picks, verifies and ships.
	RoleArmador Role = "armador"
)

func (r Role) Valid() bool {
	return r == RoleCoordinador || r == RoleArmador
}

// User is read from a small reference list; this system never creates or
// mutates users.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// BuiltinUsers is served when the backend user list is unreachable and
// in local mode.
var BuiltinUsers = []User{
	{ID: "u-carolina", Name: "Carolina", Role: RoleCoordinador},
	{ID: "u-diego", Name: "Diego", Role: RoleArmador},
	{ID: "u-marcos", Name: "Marcos", Role: RoleArmador},
	{ID: "u-lucia", Name: "Lucía", Role: RoleArmador},
	{ID: "u-javier", Name: "Javier", Role: RoleArmador},
}
