package replay

import (
	"strings"

	"github.com/BOUILLOON/admigrate/internal/ldap"
	"github.com/BOUILLOON/admigrate/internal/snapshot"
)

// pathMapper translates captured source paths into target paths.
//
// In the default (flattened) mode every unit and object lands directly under
// the target root, matching the reference behavior. In preserve mode paths
// are re-based against the source root's parent, keeping intermediate RDNs
// so the original nesting reappears under the target root: the captured root
// unit itself becomes a direct child of the target root, and everything
// below it follows.
type pathMapper struct {
	oldBase    string // parent of the captured subtree root
	targetRoot string
	preserve   bool
}

func newPathMapper(sourceRoot, targetRoot string, preserve bool) *pathMapper {
	oldBase := ""
	if preserve && sourceRoot != "" {
		parent, err := ldap.ParentDN(sourceRoot)
		if err == nil && parent != "" {
			oldBase = parent
		}
	}
	if oldBase == "" {
		// Without a re-base anchor there is nothing to preserve.
		preserve = false
	}

	return &pathMapper{
		oldBase:    oldBase,
		targetRoot: targetRoot,
		preserve:   preserve,
	}
}

// parentFor returns the container a captured unit or object is recreated
// under.
func (m *pathMapper) parentFor(sourcePath string) string {
	if !m.preserve {
		return m.targetRoot
	}

	parent, err := ldap.ParentDN(sourcePath)
	if err != nil || parent == "" {
		return m.targetRoot
	}
	return m.rebaseContainer(parent)
}

// unitParent returns the container a captured unit is recreated under.
func (m *pathMapper) unitParent(unit snapshot.OrganizationalUnit) string {
	return m.parentFor(unit.Path)
}

// targetPath returns the full target path of a captured source path, used
// to address recreated objects in the membership pass.
func (m *pathMapper) targetPath(sourcePath string) string {
	rdn, err := ldap.RDN(sourcePath)
	if err != nil {
		// Unparseable captured path: address it verbatim and let the
		// directory reject it.
		return sourcePath
	}

	if m.preserve && ldap.IsDescendantOf(sourcePath, m.oldBase) {
		rebased, err := ldap.RebaseDN(sourcePath, m.oldBase, m.targetRoot)
		if err == nil {
			return rebased
		}
	}

	return rdn + "," + m.targetRoot
}

// rebaseContainer maps a source container path onto the target tree. The
// source root's parent maps to the target root itself; containers outside
// the captured subtree collapse to the target root.
func (m *pathMapper) rebaseContainer(sourceContainer string) string {
	if equalDN(sourceContainer, m.oldBase) {
		return m.targetRoot
	}
	if !ldap.IsDescendantOf(sourceContainer, m.oldBase) {
		return m.targetRoot
	}

	rebased, err := ldap.RebaseDN(sourceContainer, m.oldBase, m.targetRoot)
	if err != nil {
		return m.targetRoot
	}
	return rebased
}

// equalDN compares two DNs case-insensitively.
func equalDN(a, b string) bool {
	na, errA := ldap.NormalizeDNCase(a)
	nb, errB := ldap.NormalizeDNCase(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return strings.EqualFold(na, nb)
}
