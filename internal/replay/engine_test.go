package replay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BOUILLOON/admigrate/internal/ldap"
	"github.com/BOUILLOON/admigrate/internal/snapshot"
)

// fakeDirectory records every mutation the engine issues, in order.
type fakeDirectory struct {
	existingUnits map[string]bool

	mu    sync.Mutex
	calls []string

	// Error injection, keyed by the recorded call string.
	errs map[string]error
}

func newFakeDirectory(existingUnits ...string) *fakeDirectory {
	existing := make(map[string]bool, len(existingUnits))
	for _, path := range existingUnits {
		existing[path] = true
	}
	return &fakeDirectory{
		existingUnits: existing,
		errs:          make(map[string]error),
	}
}

func (f *fakeDirectory) GetUnit(ctx context.Context, path string) (*snapshot.OrganizationalUnit, error) {
	if !f.existingUnits[path] {
		return nil, ldap.NewNotFoundError("get_unit", path)
	}
	return &snapshot.OrganizationalUnit{Path: path}, nil
}

func (f *fakeDirectory) GetChildUnits(ctx context.Context, path string) ([]snapshot.OrganizationalUnit, error) {
	return nil, nil
}

func (f *fakeDirectory) GetObjects(ctx context.Context, subtreeRoot string, classes []snapshot.ObjectClass) ([]snapshot.DirectoryObject, error) {
	return nil, nil
}

func (f *fakeDirectory) GetGroupMembers(ctx context.Context, groupPath string) ([]string, error) {
	return nil, nil
}

func (f *fakeDirectory) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.errs[call]
}

func (f *fakeDirectory) CreateUnit(ctx context.Context, name, parentPath string) error {
	return f.record(fmt.Sprintf("CreateUnit(%s, %s)", name, parentPath))
}

func (f *fakeDirectory) CreateUser(ctx context.Context, name, parentPath string, attributes map[string][]string) error {
	return f.record(fmt.Sprintf("CreateUser(%s, %s)", name, parentPath))
}

func (f *fakeDirectory) CreateGroup(ctx context.Context, name, parentPath string) error {
	return f.record(fmt.Sprintf("CreateGroup(%s, %s)", name, parentPath))
}

func (f *fakeDirectory) CreateComputer(ctx context.Context, name, parentPath string) error {
	return f.record(fmt.Sprintf("CreateComputer(%s, %s)", name, parentPath))
}

func (f *fakeDirectory) AddGroupMember(ctx context.Context, groupPath, memberPath string) error {
	return f.record(fmt.Sprintf("AddGroupMember(%s, %s)", groupPath, memberPath))
}

func salesSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Units: []snapshot.OrganizationalUnit{
			{Name: "Sales", Path: "OU=Sales,OU=Root"},
		},
		Objects: []snapshot.DirectoryObject{
			{Name: "alice", Path: "CN=alice,OU=Sales,OU=Root", ObjectClass: snapshot.ObjectClassUser},
			{Name: "G1", Path: "CN=G1,OU=Sales,OU=Root", ObjectClass: snapshot.ObjectClassGroup},
		},
		Memberships: []snapshot.GroupMembership{
			{GroupPath: "CN=G1,OU=Sales,OU=Root", Members: []string{"CN=alice,OU=Sales,OU=Root"}},
		},
	}
}

func TestRun_FlattenedReplayOrder(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root")
	engine := New(fake, zap.NewNop(), Options{})

	results, err := engine.Run(context.Background(), salesSnapshot(), "OU=Target,OU=Root")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateUnit(Sales, OU=Target,OU=Root)",
		"CreateUser(alice, OU=Target,OU=Root)",
		"CreateGroup(G1, OU=Target,OU=Root)",
		"AddGroupMember(CN=G1,OU=Target,OU=Root, CN=alice,OU=Target,OU=Root)",
	}, fake.calls)

	summary := Summarize(results)
	assert.Equal(t, 4, summary.Created)
	assert.Equal(t, 1, summary.Existing) // pre-existing target root
	assert.Equal(t, 0, summary.Failed)
}

func TestRun_DryRunIssuesNoMutations(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root")
	engine := New(fake, zap.NewNop(), Options{Simulate: true})

	results, err := engine.Run(context.Background(), salesSnapshot(), "OU=Target,OU=Root")
	require.NoError(t, err)

	assert.Empty(t, fake.calls)

	summary := Summarize(results)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 4, summary.Simulated) // unit, two objects, one membership record
}

func TestEnsureRoot_CreatesMissingSegments(t *testing.T) {
	fake := newFakeDirectory("OU=Root,DC=example,DC=com")
	engine := New(fake, zap.NewNop(), Options{})

	results := engine.EnsureRoot(context.Background(), "OU=Target,OU=Root,DC=example,DC=com")

	assert.Equal(t, []string{
		"CreateUnit(Target, OU=Root,DC=example,DC=com)",
	}, fake.calls)

	require.Len(t, results, 2)
	assert.Equal(t, OutcomeExisting, results[0].Outcome)
	assert.Equal(t, "OU=Root,DC=example,DC=com", results[0].Path)
	assert.Equal(t, OutcomeCreated, results[1].Outcome)
	assert.Equal(t, "OU=Target,OU=Root,DC=example,DC=com", results[1].Path)
}

func TestEnsureRoot_ExistingTargetShortCircuits(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root,DC=example,DC=com")
	engine := New(fake, zap.NewNop(), Options{})

	results := engine.EnsureRoot(context.Background(), "OU=Target,OU=Root,DC=example,DC=com")

	assert.Empty(t, fake.calls)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeExisting, results[0].Outcome)
}

func TestEnsureRoot_ContinuesPastFailedSegment(t *testing.T) {
	fake := newFakeDirectory()
	fake.errs["CreateUnit(Root, DC=example,DC=com)"] = fmt.Errorf("access denied")
	engine := New(fake, zap.NewNop(), Options{})

	results := engine.EnsureRoot(context.Background(), "OU=Target,OU=Root,DC=example,DC=com")

	// The inner segment is still attempted after the outer one fails.
	assert.Equal(t, []string{
		"CreateUnit(Root, DC=example,DC=com)",
		"CreateUnit(Target, OU=Root,DC=example,DC=com)",
	}, fake.calls)

	require.Len(t, results, 2)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Error(t, results[0].Err)
	assert.Equal(t, OutcomeCreated, results[1].Outcome)
}

func TestEnsureRoot_ParentlessOutermostSegment(t *testing.T) {
	fake := newFakeDirectory()
	engine := New(fake, zap.NewNop(), Options{})

	results := engine.EnsureRoot(context.Background(), "OU=Target,OU=Root")

	// No create is issued for the outermost unit; there is no container
	// to place it under.
	assert.Equal(t, []string{
		"CreateUnit(Target, OU=Root)",
	}, fake.calls)

	require.Len(t, results, 2)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Error(t, results[0].Err)
	assert.Equal(t, OutcomeCreated, results[1].Outcome)
}

func TestNew_NilLogger(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root")
	engine := New(fake, nil, Options{})

	results, err := engine.Run(context.Background(), salesSnapshot(), "OU=Target,OU=Root")
	require.NoError(t, err)
	assert.Equal(t, 0, Summarize(results).Failed)
}

func TestRun_BestEffortIsolation(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root")
	fake.errs["CreateUser(alice, OU=Target,OU=Root)"] = fmt.Errorf("attribute rejected")
	engine := New(fake, zap.NewNop(), Options{})

	results, err := engine.Run(context.Background(), salesSnapshot(), "OU=Target,OU=Root")
	require.NoError(t, err)

	// The group and the membership are still attempted.
	assert.Contains(t, fake.calls, "CreateGroup(G1, OU=Target,OU=Root)")
	assert.Contains(t, fake.calls, "AddGroupMember(CN=G1,OU=Target,OU=Root, CN=alice,OU=Target,OU=Root)")

	summary := Summarize(results)
	assert.Equal(t, 1, summary.Failed)
}

func TestRun_ConflictCountsAsExisting(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root")
	fake.errs["CreateUnit(Sales, OU=Target,OU=Root)"] =
		goldap.NewError(goldap.LDAPResultEntryAlreadyExists, fmt.Errorf("exists"))
	engine := New(fake, zap.NewNop(), Options{})

	results, err := engine.Run(context.Background(), salesSnapshot(), "OU=Target,OU=Root")
	require.NoError(t, err)

	summary := Summarize(results)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, summary.Existing) // target root and the Sales unit
}

func TestRun_UnsupportedClassSkipped(t *testing.T) {
	snap := salesSnapshot()
	snap.Objects = append(snap.Objects, snapshot.DirectoryObject{
		Name:        "PQ1",
		Path:        "CN=PQ1,OU=Sales,OU=Root",
		ObjectClass: snapshot.ObjectClass("printQueue"),
	})

	fake := newFakeDirectory("OU=Target,OU=Root")
	engine := New(fake, zap.NewNop(), Options{})

	results, err := engine.Run(context.Background(), snap, "OU=Target,OU=Root")
	require.NoError(t, err)

	assert.NotContains(t, fake.calls, "CreateUser(PQ1, OU=Target,OU=Root)")

	summary := Summarize(results)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
}

func TestRun_PreserveHierarchy(t *testing.T) {
	snap := &snapshot.Snapshot{
		Units: []snapshot.OrganizationalUnit{
			{Name: "Sales", Path: "OU=Sales,DC=src,DC=com"},
			{Name: "East", Path: "OU=East,OU=Sales,DC=src,DC=com"},
		},
		Objects: []snapshot.DirectoryObject{
			{Name: "alice", Path: "CN=alice,OU=East,OU=Sales,DC=src,DC=com", ObjectClass: snapshot.ObjectClassUser},
			{Name: "G1", Path: "CN=G1,OU=Sales,DC=src,DC=com", ObjectClass: snapshot.ObjectClassGroup},
		},
		Memberships: []snapshot.GroupMembership{
			{
				GroupPath: "CN=G1,OU=Sales,DC=src,DC=com",
				Members:   []string{"CN=alice,OU=East,OU=Sales,DC=src,DC=com"},
			},
		},
	}

	fake := newFakeDirectory("OU=Target,DC=dst,DC=com")
	engine := New(fake, zap.NewNop(), Options{PreserveHierarchy: true})

	_, err := engine.Run(context.Background(), snap, "OU=Target,DC=dst,DC=com")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateUnit(Sales, OU=Target,DC=dst,DC=com)",
		"CreateUnit(East, OU=Sales,OU=Target,DC=dst,DC=com)",
		"CreateUser(alice, OU=East,OU=Sales,OU=Target,DC=dst,DC=com)",
		"CreateGroup(G1, OU=Sales,OU=Target,DC=dst,DC=com)",
		"AddGroupMember(CN=G1,OU=Sales,OU=Target,DC=dst,DC=com, CN=alice,OU=East,OU=Sales,OU=Target,DC=dst,DC=com)",
	}, fake.calls)
}

func TestRun_MembershipDependencyMissing(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root")
	fake.errs["AddGroupMember(CN=G1,OU=Target,OU=Root, CN=alice,OU=Target,OU=Root)"] =
		goldap.NewError(goldap.LDAPResultNoSuchObject, fmt.Errorf("member missing"))
	engine := New(fake, zap.NewNop(), Options{})

	results, err := engine.Run(context.Background(), salesSnapshot(), "OU=Target,OU=Root")
	require.NoError(t, err)

	summary := Summarize(results)
	assert.Equal(t, 1, summary.Failed)

	var membership *ItemResult
	for i := range results {
		if results[i].Kind == KindMembership {
			membership = &results[i]
		}
	}
	require.NotNil(t, membership)
	assert.Equal(t, OutcomeFailed, membership.Outcome)
	assert.True(t, ldap.IsNotFoundError(membership.Err))
}

func TestRun_Cancelled(t *testing.T) {
	fake := newFakeDirectory("OU=Target,OU=Root")
	engine := New(fake, zap.NewNop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, salesSnapshot(), "OU=Target,OU=Root")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.calls)
}

func TestRun_ConcurrentObjectPass(t *testing.T) {
	snap := salesSnapshot()

	fake := newFakeDirectory("OU=Target,OU=Root")
	engine := New(fake, zap.NewNop(), Options{Workers: 4})

	results, err := engine.Run(context.Background(), snap, "OU=Target,OU=Root")
	require.NoError(t, err)

	// Ordering across workers is not guaranteed, but every object must be
	// attempted and the membership pass still runs afterwards.
	assert.Contains(t, fake.calls, "CreateUser(alice, OU=Target,OU=Root)")
	assert.Contains(t, fake.calls, "CreateGroup(G1, OU=Target,OU=Root)")
	assert.Equal(t, "AddGroupMember(CN=G1,OU=Target,OU=Root, CN=alice,OU=Target,OU=Root)",
		fake.calls[len(fake.calls)-1])

	summary := Summarize(results)
	assert.Equal(t, 4, summary.Created)
	assert.Equal(t, 0, summary.Failed)
}
