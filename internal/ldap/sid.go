package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// SIDHandler converts Active Directory binary security identifiers to their
// human-readable S-1-5-... string representation.
type SIDHandler struct{}

// NewSIDHandler creates a new SID handler instance.
func NewSIDHandler() *SIDHandler {
	return &SIDHandler{}
}

// ConvertBinarySIDToString converts a binary SID to its string representation.
func (s *SIDHandler) ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) == 0 {
		return "", fmt.Errorf("binary SID cannot be empty")
	}

	// A SID is revision, sub-authority count, a 6-byte authority, then one
	// 4-byte sub-authority per count. Decode indexes by the count byte, so
	// the structure must be checked up front.
	if len(binarySID) < 8 || binarySID[0] != 1 {
		return "", fmt.Errorf("malformed binary SID")
	}
	if len(binarySID) != 8+4*int(binarySID[1]) {
		return "", fmt.Errorf("binary SID length does not match sub-authority count")
	}

	sid := objectsid.Decode(binarySID)
	return sid.String(), nil
}

// ExtractSIDSafe extracts the objectSid from an LDAP entry, returning an
// empty string when absent or malformed. Handles both binary SID data (from
// a live directory) and string SID data (from test fixtures).
func (s *SIDHandler) ExtractSIDSafe(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}

	sidBytes := entry.GetRawAttributeValue("objectSid")
	if len(sidBytes) > 0 {
		sid, err := s.ConvertBinarySIDToString(sidBytes)
		if err == nil {
			return sid
		}
	}

	sidString := entry.GetAttributeValue("objectSid")
	if s.ValidateSIDString(sidString) == nil {
		return sidString
	}

	return ""
}

// ValidateSIDString validates that a string is a plausibly formatted SID.
func (s *SIDHandler) ValidateSIDString(sidString string) error {
	if sidString == "" {
		return fmt.Errorf("SID string cannot be empty")
	}

	if len(sidString) < 5 || sidString[:2] != "S-" {
		return fmt.Errorf("invalid SID format: must start with 'S-'")
	}

	return nil
}
