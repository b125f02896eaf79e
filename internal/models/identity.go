package models

// Identity is what the identity gate resolves a credential to.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsOperator reports whether the identity belongs to the operator pool.
func (i Identity) IsOperator() bool {
	return i.Role.IsOperator()
}
