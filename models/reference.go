package models

import (
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDLength is the length of a canonical Living Apps record identifier.
const IDLength = 24

// ID is a canonical record identifier: a 24 character hexadecimal token.
type ID string

// Reference is a field value naming another record. It is either a bare ID or
// an absolute record locator that ends with one.
type Reference string

// trailingID matches the identifier at the end of a reference. The separators
// in front of it are platform specific and are not part of the
// pattern.
var trailingID = regexp.MustCompile(`(?i)([0-9a-f]{24})$`)

// DecodeReference extracts the record identifier from ref. It returns an empty
// ID when ref is empty or does not end with a 24 character hex token.
func DecodeReference(ref string) ID {
	if ref == "" {
		return ""
	}
	m := trailingID.FindStringSubmatch(ref)
	if len(m) < 2 {
		return ""
	}
	return ID(m[1])
}

// ID decodes the reference.
func (r Reference) ID() ID {
	return DecodeReference(string(r))
}

// MakeReference builds the absolute locator for a record in a collection.
func MakeReference(baseURL, collectionID string, id ID) Reference {
	if collectionID == "" || id == "" {
		return ""
	}
	return Reference(strings.TrimSuffix(baseURL, "/") + "/apps/" + collectionID + "/records/" + string(id))
}

// Valid reports whether id has the canonical shape.
func (id ID) Valid() bool {
	return len(id) == IDLength && trailingID.MatchString(string(id))
}

// CreationTime reads the creation timestamp embedded in the identifier. Living
// Apps identifiers are MongoDB ObjectIDs, so the first four bytes carry the
// insertion time. The zero time is returned for malformed identifiers.
func (id ID) CreationTime() time.Time {
	oid, err := primitive.ObjectIDFromHex(strings.ToLower(string(id)))
	if err != nil {
		return time.Time{}
	}
	return oid.Timestamp()
}
