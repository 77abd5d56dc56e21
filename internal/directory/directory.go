// Package directory adapts the LDAP client to the operations the migration
// engine needs: querying units, objects, and group members on the source
// side, and creating containers, objects, and membership links on the target
// side.
package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/BOUILLOON/admigrate/internal/ldap"
	"github.com/BOUILLOON/admigrate/internal/snapshot"
)

// Active Directory groupType bit flags. Recreated groups are always
// global-scope security groups; source scope and category are not copied.
const (
	groupTypeFlagGlobal   int32 = 0x00000002
	groupTypeFlagSecurity int32 = -2147483648 // 0x80000000 as signed int32
)

// Service is the directory-client surface consumed by capture and replay.
// All operations are remote and individually fallible; there is no
// transactional guarantee across calls.
type Service interface {
	// Source-side queries
	GetUnit(ctx context.Context, path string) (*snapshot.OrganizationalUnit, error)
	GetChildUnits(ctx context.Context, path string) ([]snapshot.OrganizationalUnit, error)
	GetObjects(ctx context.Context, subtreeRoot string, classes []snapshot.ObjectClass) ([]snapshot.DirectoryObject, error)
	GetGroupMembers(ctx context.Context, groupPath string) ([]string, error)

	// Target-side mutations
	CreateUnit(ctx context.Context, name, parentPath string) error
	CreateUser(ctx context.Context, name, parentPath string, attributes map[string][]string) error
	CreateGroup(ctx context.Context, name, parentPath string) error
	CreateComputer(ctx context.Context, name, parentPath string) error
	AddGroupMember(ctx context.Context, groupPath, memberPath string) error
}

// service implements Service over an ldap.Client.
type service struct {
	client  ldap.Client
	log     *zap.Logger
	sid     *ldap.SIDHandler
	timeout time.Duration
}

// New creates a directory service over the given LDAP client.
func New(client ldap.Client, log *zap.Logger) Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &service{
		client:  client,
		log:     log,
		sid:     ldap.NewSIDHandler(),
		timeout: 30 * time.Second,
	}
}

// GetUnit retrieves the organizational unit at path with all its attributes.
func (s *service) GetUnit(ctx context.Context, path string) (*snapshot.OrganizationalUnit, error) {
	result, err := s.client.Search(ctx, &ldap.SearchRequest{
		BaseDN:     path,
		Scope:      ldap.ScopeBaseObject,
		Filter:     "(objectClass=organizationalUnit)",
		Attributes: []string{"*"},
		SizeLimit:  1,
		TimeLimit:  s.timeout,
	})
	if err != nil {
		if ldap.IsNotFoundError(err) {
			return nil, ldap.NewNotFoundError("get_unit", path)
		}
		return nil, ldap.WrapError("get_unit", err)
	}

	if len(result.Entries) == 0 {
		return nil, ldap.NewNotFoundError("get_unit", path)
	}

	unit := s.entryToUnit(result.Entries[0])
	return &unit, nil
}

// GetChildUnits retrieves the immediate child units of path. Sibling order
// is whatever the server returns; callers must not rely on it.
func (s *service) GetChildUnits(ctx context.Context, path string) ([]snapshot.OrganizationalUnit, error) {
	result, err := s.client.Search(ctx, &ldap.SearchRequest{
		BaseDN:     path,
		Scope:      ldap.ScopeSingleLevel,
		Filter:     "(objectClass=organizationalUnit)",
		Attributes: []string{"*"},
		TimeLimit:  s.timeout,
	})
	if err != nil {
		return nil, ldap.WrapError("get_child_units", err)
	}

	units := make([]snapshot.OrganizationalUnit, 0, len(result.Entries))
	for _, entry := range result.Entries {
		units = append(units, s.entryToUnit(entry))
	}
	return units, nil
}

// GetObjects retrieves every object of the given classes in the subtree
// rooted at subtreeRoot, in a single flat query.
func (s *service) GetObjects(ctx context.Context, subtreeRoot string, classes []snapshot.ObjectClass) ([]snapshot.DirectoryObject, error) {
	if len(classes) == 0 {
		return nil, nil
	}

	result, err := s.client.Search(ctx, &ldap.SearchRequest{
		BaseDN:     subtreeRoot,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     classFilter(classes),
		Attributes: []string{"*"},
		TimeLimit:  s.timeout,
	})
	if err != nil {
		return nil, ldap.WrapError("get_objects", err)
	}

	objects := make([]snapshot.DirectoryObject, 0, len(result.Entries))
	for _, entry := range result.Entries {
		class, ok := classifyEntry(entry)
		if !ok {
			continue
		}
		objects = append(objects, snapshot.DirectoryObject{
			Name:        entryName(entry, "cn"),
			Path:        entry.DN,
			ObjectClass: class,
			Attributes:  s.entryAttributes(entry, "distinguishedName", "objectClass"),
		})
	}
	return objects, nil
}

// GetGroupMembers retrieves the direct members of the group at groupPath.
func (s *service) GetGroupMembers(ctx context.Context, groupPath string) ([]string, error) {
	result, err := s.client.Search(ctx, &ldap.SearchRequest{
		BaseDN:     groupPath,
		Scope:      ldap.ScopeBaseObject,
		Filter:     "(objectClass=group)",
		Attributes: []string{"member"},
		SizeLimit:  1,
		TimeLimit:  s.timeout,
	})
	if err != nil {
		if ldap.IsNotFoundError(err) {
			return nil, ldap.NewNotFoundError("get_group_members", groupPath)
		}
		return nil, ldap.WrapError("get_group_members", err)
	}

	if len(result.Entries) == 0 {
		return nil, ldap.NewNotFoundError("get_group_members", groupPath)
	}

	return result.Entries[0].GetAttributeValues("member"), nil
}

// CreateUnit creates an organizational unit named name directly under
// parentPath.
func (s *service) CreateUnit(ctx context.Context, name, parentPath string) error {
	if name == "" {
		return fmt.Errorf("unit name is required")
	}

	err := s.client.Add(ctx, &ldap.AddRequest{
		DN: fmt.Sprintf("OU=%s,%s", ldap.EscapeDNValue(name), parentPath),
		Attributes: map[string][]string{
			"objectClass": {"top", "organizationalUnit"},
			"ou":          {name},
		},
	})
	return ldap.WrapError("create_unit", err)
}

// CreateUser creates a user under parentPath, applying the captured
// attributes as extended attributes.
func (s *service) CreateUser(ctx context.Context, name, parentPath string, attributes map[string][]string) error {
	if name == "" {
		return fmt.Errorf("user name is required")
	}

	attrs := map[string][]string{
		"objectClass": {"top", "person", "organizationalPerson", "user"},
		"cn":          {name},
	}
	for attr, values := range attributes {
		if reservedAttribute(attr) || len(values) == 0 {
			continue
		}
		attrs[attr] = values
	}

	err := s.client.Add(ctx, &ldap.AddRequest{
		DN:         fmt.Sprintf("CN=%s,%s", ldap.EscapeDNValue(name), parentPath),
		Attributes: attrs,
	})
	return ldap.WrapError("create_user", err)
}

// CreateGroup creates a global-scope security group under parentPath.
// Source attributes are not reapplied; scope and category are fixed policy.
func (s *service) CreateGroup(ctx context.Context, name, parentPath string) error {
	if name == "" {
		return fmt.Errorf("group name is required")
	}

	groupType := groupTypeFlagGlobal | groupTypeFlagSecurity

	err := s.client.Add(ctx, &ldap.AddRequest{
		DN: fmt.Sprintf("CN=%s,%s", ldap.EscapeDNValue(name), parentPath),
		Attributes: map[string][]string{
			"objectClass":    {"top", "group"},
			"cn":             {name},
			"sAMAccountName": {name},
			"groupType":      {strconv.FormatInt(int64(groupType), 10)},
		},
	})
	return ldap.WrapError("create_group", err)
}

// CreateComputer creates a computer account under parentPath.
func (s *service) CreateComputer(ctx context.Context, name, parentPath string) error {
	if name == "" {
		return fmt.Errorf("computer name is required")
	}

	err := s.client.Add(ctx, &ldap.AddRequest{
		DN: fmt.Sprintf("CN=%s,%s", ldap.EscapeDNValue(name), parentPath),
		Attributes: map[string][]string{
			"objectClass":    {"top", "person", "organizationalPerson", "user", "computer"},
			"cn":             {name},
			"sAMAccountName": {name + "$"},
		},
	})
	return ldap.WrapError("create_computer", err)
}

// AddGroupMember adds a single member to the group at groupPath.
func (s *service) AddGroupMember(ctx context.Context, groupPath, memberPath string) error {
	err := s.client.Modify(ctx, &ldap.ModifyRequest{
		DN:            groupPath,
		AddAttributes: map[string][]string{"member": {memberPath}},
	})
	return ldap.WrapError("add_group_member", err)
}

// entryToUnit converts an LDAP entry to a unit descriptor.
func (s *service) entryToUnit(entry *goldap.Entry) snapshot.OrganizationalUnit {
	return snapshot.OrganizationalUnit{
		Name:       entryName(entry, "ou"),
		Path:       entry.DN,
		Attributes: s.entryAttributes(entry, "distinguishedName"),
	}
}

// entryAttributes copies an entry's attributes into a plain map, skipping
// the named attributes. Binary objectSid and objectGUID values are rewritten
// as their canonical string forms so the interchange document stays valid
// JSON text.
func (s *service) entryAttributes(entry *goldap.Entry, skip ...string) map[string][]string {
	attrs := make(map[string][]string, len(entry.Attributes))

	for _, attr := range entry.Attributes {
		if skipAttribute(attr.Name, skip) {
			continue
		}

		switch attr.Name {
		case "objectSid":
			if sid := s.sid.ExtractSIDSafe(entry); sid != "" {
				attrs[attr.Name] = []string{sid}
			}
		case "objectGUID":
			if guid := ldap.ExtractGUIDSafe(entry); guid != "" {
				attrs[attr.Name] = []string{guid}
			}
		default:
			attrs[attr.Name] = append([]string(nil), attr.Values...)
		}
	}

	return attrs
}

// entryName returns the entry's naming attribute, falling back to "name".
func entryName(entry *goldap.Entry, namingAttr string) string {
	if name := entry.GetAttributeValue(namingAttr); name != "" {
		return name
	}
	return entry.GetAttributeValue("name")
}

// classifyEntry maps an entry's objectClass values onto the snapshot class
// set. Computer entries also carry the user class, so computer wins over
// user; group is unambiguous.
func classifyEntry(entry *goldap.Entry) (snapshot.ObjectClass, bool) {
	classes := entry.GetAttributeValues("objectClass")

	has := func(want string) bool {
		for _, c := range classes {
			if strings.EqualFold(c, want) {
				return true
			}
		}
		return false
	}

	switch {
	case has("computer"):
		return snapshot.ObjectClassComputer, true
	case has("group"):
		return snapshot.ObjectClassGroup, true
	case has("user"), has("person"):
		return snapshot.ObjectClassUser, true
	default:
		return "", false
	}
}

// classFilter builds the disjunction filter for the requested classes.
func classFilter(classes []snapshot.ObjectClass) string {
	var parts []string
	for _, class := range classes {
		parts = append(parts, fmt.Sprintf("(objectClass=%s)", goldap.EscapeFilter(string(class))))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return fmt.Sprintf("(|%s)", strings.Join(parts, ""))
}

// reservedAttribute reports whether attr is set by the create operation
// itself and must not be overridden by captured attributes.
func reservedAttribute(attr string) bool {
	switch strings.ToLower(attr) {
	case "objectclass", "cn", "distinguishedname", "objectsid", "objectguid",
		"usnchanged", "usncreated", "whencreated", "whenchanged":
		return true
	default:
		return false
	}
}

// skipAttribute reports whether name appears in the skip list.
func skipAttribute(name string, skip []string) bool {
	for _, s := range skip {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}
