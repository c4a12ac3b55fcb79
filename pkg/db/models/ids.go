package models

import "github.com/google/uuid"

// ensureID assigns a random UUID when the primary key was left empty, so rows
// can be created on any dialect without a database-side default.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
