package ldap

import (
	"encoding/hex"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// guidBytesLength is the fixed size of an objectGUID value.
const guidBytesLength = 16

// GUIDBytesToString converts Active Directory GUID bytes to the standard
// string format. AD stores GUIDs in a mixed-endian layout: the first three
// groups (Data1-Data3) are little-endian, the remaining eight bytes are
// big-endian.
func GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != guidBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidBytesLength, len(guidBytes))
	}

	standard := make([]byte, guidBytesLength)

	// Data1 (bytes 0-3): reverse byte order
	standard[0] = guidBytes[3]
	standard[1] = guidBytes[2]
	standard[2] = guidBytes[1]
	standard[3] = guidBytes[0]

	// Data2 (bytes 4-5): reverse byte order
	standard[4] = guidBytes[5]
	standard[5] = guidBytes[4]

	// Data3 (bytes 6-7): reverse byte order
	standard[6] = guidBytes[7]
	standard[7] = guidBytes[6]

	// Data4 (bytes 8-15): keep original order
	copy(standard[8:], guidBytes[8:])

	hexStr := hex.EncodeToString(standard)
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hexStr[0:8], hexStr[8:12], hexStr[12:16], hexStr[16:20], hexStr[20:32]), nil
}

// ExtractGUIDSafe extracts the objectGUID from an LDAP entry as a standard
// GUID string, returning an empty string when absent or malformed.
func ExtractGUIDSafe(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}

	guidBytes := entry.GetRawAttributeValue("objectGUID")
	if len(guidBytes) != guidBytesLength {
		return ""
	}

	guid, err := GUIDBytesToString(guidBytes)
	if err != nil {
		return ""
	}
	return guid
}
