package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeDNValue escapes special characters in a DN attribute value according
// to RFC 4514: the characters , + " \ < > ; always, leading #, and leading
// or trailing spaces.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// SplitDN splits a distinguished name into its RDN strings at unescaped
// comma boundaries, keeping the original text of each component untouched.
// Reconstruction always works on these raw components: go-ldap's DN.String()
// lowercases attribute types, so ParseDN is used for validation only.
func SplitDN(dn string) ([]string, error) {
	if _, err := ldap.ParseDN(dn); err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}

	var parts []string
	start := 0
	escaped := false
	quoted := false
	for i := 0; i < len(dn); i++ {
		switch {
		case escaped:
			escaped = false
		case dn[i] == '\\':
			escaped = true
		case dn[i] == '"':
			quoted = !quoted
		case dn[i] == ',' && !quoted:
			parts = append(parts, strings.TrimLeft(dn[start:i], " "))
			start = i + 1
		}
	}
	parts = append(parts, strings.TrimLeft(dn[start:], " "))
	return parts, nil
}

// ParentDN returns the parent of a distinguished name, derived by dropping
// the leading RDN. Returns an empty string for a single-component DN.
func ParentDN(dn string) (string, error) {
	parts, err := SplitDN(dn)
	if err != nil {
		return "", err
	}

	if len(parts) <= 1 {
		return "", nil
	}

	return strings.Join(parts[1:], ","), nil
}

// RDN returns the leading relative distinguished name of dn, e.g.
// "CN=alice" for "CN=alice,OU=Sales,DC=example,DC=com".
func RDN(dn string) (string, error) {
	parts, err := SplitDN(dn)
	if err != nil {
		return "", err
	}

	if len(parts) == 0 || parts[0] == "" {
		return "", fmt.Errorf("empty DN")
	}

	return parts[0], nil
}

// RDNValue returns the attribute value of the leading RDN, e.g. "alice"
// for "CN=alice,OU=Sales,DC=example,DC=com".
func RDNValue(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", fmt.Errorf("empty DN")
	}

	return parsed.RDNs[0].Attributes[0].Value, nil
}

// IsDescendantOf reports whether dn sits strictly below ancestor in the tree.
// Comparison is structural (RFC 4514 aware), not a raw string suffix check.
func IsDescendantOf(dn, ancestor string) bool {
	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return false
	}
	parsedAncestor, err := ldap.ParseDN(ancestor)
	if err != nil {
		return false
	}

	return parsedAncestor.AncestorOfFold(parsedDN)
}

// RebaseDN rewrites dn so that its oldBase suffix is replaced with newBase,
// preserving any intermediate RDNs. If dn does not sit below oldBase, only
// the leading RDN is kept and placed directly under newBase.
func RebaseDN(dn, oldBase, newBase string) (string, error) {
	parts, err := SplitDN(dn)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 || parts[0] == "" {
		return "", fmt.Errorf("empty DN")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}
	parsedBase, err := ldap.ParseDN(oldBase)
	if err != nil {
		return "", fmt.Errorf("invalid base DN syntax: %w", err)
	}

	if parsedBase.AncestorOfFold(parsedDN) {
		keep := len(parts) - len(parsedBase.RDNs)
		return strings.Join(parts[:keep], ",") + "," + newBase, nil
	}

	// Not below the old base: fall back to flattening under the new one.
	return parts[0] + "," + newBase, nil
}

// NormalizeDNCase normalizes the attribute type descriptors in a DN to
// uppercase to match Active Directory's canonical format, e.g.
// "cn=john,ou=users" becomes "CN=john,OU=users".
func NormalizeDNCase(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	var rdnStrings []string
	for _, rdn := range parsed.RDNs {
		var attrStrings []string
		for _, attr := range rdn.Attributes {
			attrStrings = append(attrStrings, fmt.Sprintf("%s=%s", strings.ToUpper(attr.Type), attr.Value))
		}
		rdnStrings = append(rdnStrings, strings.Join(attrStrings, "+"))
	}

	return strings.Join(rdnStrings, ","), nil
}
