package enums

import "fmt"

// AccountKind identifies which party a wallet account belongs to.
type AccountKind string

const (
	AccountKindCustomer AccountKind = "customer"
	AccountKindVendor   AccountKind = "vendor"
	AccountKindCourier  AccountKind = "courier"
)

var validAccountKinds = []AccountKind{
	AccountKindCustomer,
	AccountKindVendor,
	AccountKindCourier,
}

func (k AccountKind) IsValid() bool {
	for _, candidate := range validAccountKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseAccountKind(value string) (AccountKind, error) {
	for _, candidate := range validAccountKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account kind %q", value)
}

// Role is the caller role carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleCourier  Role = "courier"
	RoleAdmin    Role = "admin"
)

var validRoles = []Role{RoleCustomer, RoleVendor, RoleCourier, RoleAdmin}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}

// AccountKind maps a role to the wallet account kind it owns.
func (r Role) AccountKind() (AccountKind, bool) {
	switch r {
	case RoleCustomer:
		return AccountKindCustomer, true
	case RoleVendor:
		return AccountKindVendor, true
	case RoleCourier:
		return AccountKindCourier, true
	default:
		return "", false
	}
}
