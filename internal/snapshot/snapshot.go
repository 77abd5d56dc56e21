// Package snapshot defines the interchange model between export and import:
// the organizational units, directory objects, and group memberships captured
// from a source subtree, in the order the replay engine depends on.
package snapshot

import (
	"fmt"
)

// ObjectClass identifies the kind of a directory object. The set is closed;
// replay skips anything it does not recognize rather than failing.
type ObjectClass string

const (
	ObjectClassUser     ObjectClass = "user"
	ObjectClassGroup    ObjectClass = "group"
	ObjectClassComputer ObjectClass = "computer"
)

// Supported reports whether the replay engine knows how to recreate objects
// of this class.
func (c ObjectClass) Supported() bool {
	switch c {
	case ObjectClassUser, ObjectClassGroup, ObjectClassComputer:
		return true
	default:
		return false
	}
}

// SupportedClasses lists every object class the engine captures and replays.
func SupportedClasses() []ObjectClass {
	return []ObjectClass{ObjectClassUser, ObjectClassGroup, ObjectClassComputer}
}

// OrganizationalUnit describes one container captured during the unit walk.
// Units appear in the snapshot in pre-order: a unit's parent, when it is part
// of the captured subtree, always precedes it.
type OrganizationalUnit struct {
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// DirectoryObject describes one user, group, or computer captured from the
// subtree. Attributes exclude the path and object class themselves.
type DirectoryObject struct {
	Name        string              `json:"name"`
	Path        string              `json:"path"`
	ObjectClass ObjectClass         `json:"objectClass"`
	Attributes  map[string][]string `json:"attributes,omitempty"`
}

// GroupMembership records the direct members of one captured group. A group
// with no members has no record at all; absence means "no members", not
// "unknown".
type GroupMembership struct {
	GroupPath string   `json:"groupPath"`
	Members   []string `json:"members"`
}

// Snapshot is the complete capture of a subtree and the sole hand-off
// artifact between export and import.
type Snapshot struct {
	Units       []OrganizationalUnit `json:"units"`
	Objects     []DirectoryObject    `json:"objects"`
	Memberships []GroupMembership    `json:"memberships"`
}

// RootPath returns the path of the subtree root the snapshot was captured
// from, which is always the first unit in pre-order. Empty when the snapshot
// has no units.
func (s *Snapshot) RootPath() string {
	if len(s.Units) == 0 {
		return ""
	}
	return s.Units[0].Path
}

// GroupAt returns the captured object at path when it exists and is a group.
func (s *Snapshot) GroupAt(path string) (*DirectoryObject, bool) {
	for i := range s.Objects {
		if s.Objects[i].Path == path && s.Objects[i].ObjectClass == ObjectClassGroup {
			return &s.Objects[i], true
		}
	}
	return nil, false
}

// Validate checks the referential-closure invariant: every membership's
// group path must name a captured group object. A freshly captured snapshot
// satisfies this by construction; a hand-edited interchange document may
// not, and replay tolerates the violation, so this is a diagnostic rather
// than a gate.
func (s *Snapshot) Validate() error {
	for _, m := range s.Memberships {
		if _, ok := s.GroupAt(m.GroupPath); !ok {
			return fmt.Errorf("membership references unknown group %q", m.GroupPath)
		}
	}
	return nil
}
