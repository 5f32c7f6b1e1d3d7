package batch

import "github.com/whoisdsmith/SmartFileOrganizer/id"

// ID is the primary identifier type for all batch entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
