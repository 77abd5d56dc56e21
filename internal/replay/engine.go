package replay

import (
	"context"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BOUILLOON/admigrate/internal/directory"
	"github.com/BOUILLOON/admigrate/internal/ldap"
	"github.com/BOUILLOON/admigrate/internal/snapshot"
)

// Options controls how a snapshot is replayed.
type Options struct {
	// Simulate reports every intended mutation without touching the
	// directory. The target root existence check still runs.
	Simulate bool

	// PreserveHierarchy recreates the captured nesting under the target
	// root instead of flattening everything into it.
	PreserveHierarchy bool

	// Workers bounds the number of concurrent object creations in the
	// object pass. Values below 2 keep the pass sequential.
	Workers int
}

// Engine replays a captured snapshot into a target subtree. Replay is
// best-effort: each unit, object, and membership gets its own outcome, and a
// failure never stops the remaining items.
type Engine struct {
	dir  directory.Service
	log  *zap.Logger
	opts Options
}

func New(dir directory.Service, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		dir:  dir,
		log:  log.Named("replay"),
		opts: opts,
	}
}

// Run ensures the target root exists and then replays the snapshot in three
// passes: units, objects, memberships. The returned results cover every item
// attempted. The error is non-nil only when the context is cancelled; item
// failures are reported through the results, not the error.
func (e *Engine) Run(ctx context.Context, snap *snapshot.Snapshot, targetPath string) ([]ItemResult, error) {
	mapper := newPathMapper(snap.RootPath(), targetPath, e.opts.PreserveHierarchy)

	results := e.EnsureRoot(ctx, targetPath)

	unitResults, err := e.createUnits(ctx, snap.Units, mapper)
	results = append(results, unitResults...)
	if err != nil {
		return results, err
	}

	objectResults, err := e.createObjects(ctx, snap.Objects, mapper)
	results = append(results, objectResults...)
	if err != nil {
		return results, err
	}

	membershipResults, err := e.applyMemberships(ctx, snap.Memberships, mapper)
	results = append(results, membershipResults...)
	if err != nil {
		return results, err
	}

	summary := Summarize(results)
	e.log.Info("replay finished",
		zap.String("target", targetPath),
		zap.Bool("simulate", e.opts.Simulate),
		zap.String("summary", summary.String()))

	return results, nil
}

// EnsureRoot verifies the target root exists and, when it does not, creates
// the missing organizational unit segments from the outermost inward. A
// failed segment is recorded and creation continues with the next one, so a
// partially pre-existing chain still gets its remaining segments.
func (e *Engine) EnsureRoot(ctx context.Context, targetPath string) []ItemResult {
	if _, err := e.dir.GetUnit(ctx, targetPath); err == nil {
		e.log.Debug("target root exists", zap.String("path", targetPath))
		return []ItemResult{{
			Kind:    KindRootSegment,
			Name:    targetPath,
			Path:    targetPath,
			Outcome: OutcomeExisting,
		}}
	} else if !ldap.IsNotFoundError(err) {
		e.log.Warn("target root check failed", zap.String("path", targetPath), zap.Error(err))
	}

	parsed, err := goldap.ParseDN(targetPath)
	if err != nil {
		return []ItemResult{{
			Kind:    KindRootSegment,
			Name:    targetPath,
			Path:    targetPath,
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("parse target path: %w", err),
		}}
	}

	// Segment strings are sliced from the original path; go-ldap's
	// DN.String() would lowercase the attribute types.
	segments, err := ldap.SplitDN(targetPath)
	if err != nil {
		return []ItemResult{{
			Kind:    KindRootSegment,
			Name:    targetPath,
			Path:    targetPath,
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("parse target path: %w", err),
		}}
	}

	var results []ItemResult
	for i := len(parsed.RDNs) - 1; i >= 0; i-- {
		rdn := parsed.RDNs[i]
		if len(rdn.Attributes) == 0 || !strings.EqualFold(rdn.Attributes[0].Type, "OU") {
			// Domain components and other anchors below the first OU
			// are assumed to exist.
			continue
		}

		name := rdn.Attributes[0].Value
		segment := strings.Join(segments[i:], ",")
		parent := strings.Join(segments[i+1:], ",")

		results = append(results, e.ensureSegment(ctx, name, segment, parent))
	}

	return results
}

func (e *Engine) ensureSegment(ctx context.Context, name, segment, parent string) ItemResult {
	result := ItemResult{
		Kind: KindRootSegment,
		Name: name,
		Path: segment,
	}

	if _, err := e.dir.GetUnit(ctx, segment); err == nil {
		result.Outcome = OutcomeExisting
		return result
	} else if !ldap.IsNotFoundError(err) {
		e.log.Warn("root segment check failed", zap.String("path", segment), zap.Error(err))
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	// An outermost organizational unit has nothing to be created under;
	// issuing the create would send a malformed DN.
	if parent == "" {
		e.log.Warn("root segment has no parent container", zap.String("path", segment))
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("segment %q has no parent container", segment)
		return result
	}

	if e.opts.Simulate {
		e.log.Info("would create root segment", zap.String("path", segment))
		result.Outcome = OutcomeSimulated
		return result
	}

	if err := e.dir.CreateUnit(ctx, name, parent); err != nil {
		e.log.Warn("root segment creation failed", zap.String("path", segment), zap.Error(err))
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	e.log.Info("created root segment", zap.String("path", segment))
	result.Outcome = OutcomeCreated
	return result
}

func (e *Engine) createUnits(ctx context.Context, units []snapshot.OrganizationalUnit, mapper *pathMapper) ([]ItemResult, error) {
	results := make([]ItemResult, 0, len(units))
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		parent := mapper.unitParent(unit)
		result := ItemResult{
			Kind: KindUnit,
			Name: unit.Name,
			Path: "OU=" + ldap.EscapeDNValue(unit.Name) + "," + parent,
		}

		switch {
		case e.opts.Simulate:
			e.log.Info("would create unit", zap.String("path", result.Path))
			result.Outcome = OutcomeSimulated
		default:
			result.Outcome, result.Err = e.applyCreate(result.Path, func() error {
				return e.dir.CreateUnit(ctx, unit.Name, parent)
			})
		}

		results = append(results, result)
	}

	return results, nil
}

func (e *Engine) createObjects(ctx context.Context, objects []snapshot.DirectoryObject, mapper *pathMapper) ([]ItemResult, error) {
	results := make([]ItemResult, len(objects))

	if e.opts.Workers > 1 && !e.opts.Simulate {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(e.opts.Workers)
		for i, object := range objects {
			group.Go(func() error {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				results[i] = e.createObject(groupCtx, object, mapper)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return compactResults(results), err
		}
		return results, nil
	}

	for i, object := range objects {
		if err := ctx.Err(); err != nil {
			return results[:i], err
		}
		results[i] = e.createObject(ctx, object, mapper)
	}

	return results, nil
}

func (e *Engine) createObject(ctx context.Context, object snapshot.DirectoryObject, mapper *pathMapper) ItemResult {
	parent := mapper.parentFor(object.Path)
	result := ItemResult{
		Kind: KindObject,
		Name: object.Name,
		Path: "CN=" + ldap.EscapeDNValue(object.Name) + "," + parent,
	}

	if !object.ObjectClass.Supported() {
		e.log.Warn("skipping unsupported object class",
			zap.String("name", object.Name),
			zap.String("objectClass", string(object.ObjectClass)))
		result.Outcome = OutcomeSkipped
		result.Err = fmt.Errorf("unsupported object class %q", object.ObjectClass)
		return result
	}

	if e.opts.Simulate {
		e.log.Info("would create object",
			zap.String("path", result.Path),
			zap.String("objectClass", string(object.ObjectClass)))
		result.Outcome = OutcomeSimulated
		return result
	}

	var err error
	switch object.ObjectClass {
	case snapshot.ObjectClassUser:
		err = e.dir.CreateUser(ctx, object.Name, parent, object.Attributes)
	case snapshot.ObjectClassGroup:
		err = e.dir.CreateGroup(ctx, object.Name, parent)
	case snapshot.ObjectClassComputer:
		err = e.dir.CreateComputer(ctx, object.Name, parent)
	}

	result.Outcome, result.Err = e.applyCreate(result.Path, func() error { return err })
	return result
}

func (e *Engine) applyMemberships(ctx context.Context, memberships []snapshot.GroupMembership, mapper *pathMapper) ([]ItemResult, error) {
	var results []ItemResult
	for _, membership := range memberships {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		groupPath := mapper.targetPath(membership.GroupPath)

		if e.opts.Simulate {
			e.log.Info("would restore group members",
				zap.String("group", groupPath),
				zap.Int("members", len(membership.Members)))
			results = append(results, ItemResult{
				Kind:    KindMembership,
				Name:    membership.GroupPath,
				Path:    groupPath,
				Outcome: OutcomeSimulated,
			})
			continue
		}

		for _, member := range membership.Members {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			memberPath := mapper.targetPath(member)
			result := ItemResult{
				Kind: KindMembership,
				Name: memberPath,
				Path: groupPath,
			}

			if err := e.dir.AddGroupMember(ctx, groupPath, memberPath); err != nil {
				if ldap.IsNotFoundError(err) {
					e.log.Warn("membership references missing object",
						zap.String("group", groupPath),
						zap.String("member", memberPath),
						zap.Error(err))
				} else {
					e.log.Warn("membership restore failed",
						zap.String("group", groupPath),
						zap.String("member", memberPath),
						zap.Error(err))
				}
				result.Outcome = OutcomeFailed
				result.Err = err
			} else {
				result.Outcome = OutcomeCreated
			}

			results = append(results, result)
		}
	}

	return results, nil
}

// applyCreate runs a mutation and folds its error into an outcome. A
// conflict counts as an already-existing item, not a failure.
func (e *Engine) applyCreate(path string, create func() error) (Outcome, error) {
	err := create()
	switch {
	case err == nil:
		e.log.Info("created", zap.String("path", path))
		return OutcomeCreated, nil
	case ldap.IsConflictError(err):
		e.log.Debug("already exists", zap.String("path", path))
		return OutcomeExisting, nil
	default:
		e.log.Warn("creation failed", zap.String("path", path), zap.Error(err))
		return OutcomeFailed, err
	}
}

// compactResults drops zero-valued slots left behind when concurrent object
// creation stops early.
func compactResults(results []ItemResult) []ItemResult {
	filled := results[:0]
	for _, r := range results {
		if r.Outcome != "" {
			filled = append(filled, r)
		}
	}
	return filled
}
