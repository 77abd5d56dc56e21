// Package capture walks a source subtree and produces the snapshot the
// replay engine consumes. Capture is fail-fast: any error aborts the whole
// export and nothing is partially written.
package capture

import (
	"context"

	"go.uber.org/zap"

	"github.com/BOUILLOON/admigrate/internal/directory"
	"github.com/BOUILLOON/admigrate/internal/ldap"
	"github.com/BOUILLOON/admigrate/internal/snapshot"
)

// Capturer exports a subtree of the source directory.
type Capturer struct {
	dir directory.Service
	log *zap.Logger
}

// New creates a capturer over the given directory service.
func New(dir directory.Service, log *zap.Logger) *Capturer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Capturer{dir: dir, log: log}
}

// Capture exports the subtree rooted at rootPath: the unit hierarchy in
// pre-order, every in-scope object in one flat query, and the direct member
// list of each captured group.
func (c *Capturer) Capture(ctx context.Context, rootPath string) (*snapshot.Snapshot, error) {
	root, err := c.dir.GetUnit(ctx, rootPath)
	if err != nil {
		return nil, ldap.WrapError("capture_root", err)
	}

	snap := &snapshot.Snapshot{}

	if err := c.walkUnits(ctx, *root, snap); err != nil {
		return nil, err
	}
	c.log.Info("captured organizational units",
		zap.String("root", rootPath),
		zap.Int("count", len(snap.Units)))

	objects, err := c.dir.GetObjects(ctx, rootPath, snapshot.SupportedClasses())
	if err != nil {
		return nil, ldap.WrapError("capture_objects", err)
	}
	snap.Objects = objects
	c.log.Info("captured directory objects", zap.Int("count", len(objects)))

	if err := c.captureMemberships(ctx, snap); err != nil {
		return nil, err
	}
	c.log.Info("captured group memberships", zap.Int("count", len(snap.Memberships)))

	return snap, nil
}

// walkUnits visits units depth-first, appending each unit before recursing
// into its children so that parents always precede their descendants. Child
// queries return complete descriptors, so every unit is fetched exactly once.
func (c *Capturer) walkUnits(ctx context.Context, unit snapshot.OrganizationalUnit, snap *snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap.Units = append(snap.Units, unit)

	children, err := c.dir.GetChildUnits(ctx, unit.Path)
	if err != nil {
		return ldap.WrapError("capture_child_units", err)
	}

	for _, child := range children {
		if err := c.walkUnits(ctx, child, snap); err != nil {
			return err
		}
	}
	return nil
}

// captureMemberships queries the direct members of each captured group. A
// group with no members gets no record.
func (c *Capturer) captureMemberships(ctx context.Context, snap *snapshot.Snapshot) error {
	for _, obj := range snap.Objects {
		if obj.ObjectClass != snapshot.ObjectClassGroup {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		members, err := c.dir.GetGroupMembers(ctx, obj.Path)
		if err != nil {
			return ldap.WrapError("capture_members", err)
		}
		if len(members) == 0 {
			continue
		}

		snap.Memberships = append(snap.Memberships, snapshot.GroupMembership{
			GroupPath: obj.Path,
			Members:   members,
		})
	}
	return nil
}
