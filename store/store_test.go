package store

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/shuttle/datasets"
	"github.com/Noofbiz/shuttle/trajectory"
)

// newTestStore opens a fresh database in a temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func testTrajectory(name string, n int) *trajectory.Trajectory {
	tr := &trajectory.Trajectory{
		Name:      name,
		DropFrame: 2 * (n + 1),
		LabelXYZ:  [trajectory.LabelDim]float32{1.5, -2.25, 0},
	}
	for i := range n {
		frame := make([]float32, trajectory.FeatureDim)
		for j := range frame {
			frame[j] = float32(i) + float32(j)/100
		}
		tr.Frames = append(tr.Frames, frame)
		tr.FrameIDs = append(tr.FrameIDs, 2*i)
	}
	return tr
}

func TestNew_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"trajectories", "trajectory_frames", "norm_stats"} {
		var name string
		err := s.DB().QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		assert.NoError(t, err, "table %s missing", table)
	}
}

func TestMigrateVersion(t *testing.T) {
	s := newTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(path)
	require.NoError(t, err)
	_, err = s.Trajectories().Create(testTrajectory("keep.txt", 3))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Trajectories().Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTrajectoryRepository_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	repo := s.Trajectories()

	want := testTrajectory("rally_001.txt", 12)
	id, err := repo.Create(want)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := repo.Get(id)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	byName, err := repo.GetByName("rally_001.txt")
	require.NoError(t, err)
	if diff := cmp.Diff(want, byName); diff != "" {
		t.Errorf("GetByName mismatch (-want +got):\n%s", diff)
	}

	_, err = repo.GetByName("missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrajectoryRepository_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	repo := s.Trajectories()

	_, err := repo.Create(testTrajectory("a.txt", 3))
	require.NoError(t, err)
	_, err = repo.Create(testTrajectory("a.txt", 4))
	require.Error(t, err, "expected a unique constraint error")

	// The failed insert must not leave frames behind.
	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	var frames int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM trajectory_frames`).Scan(&frames))
	assert.Equal(t, 3, frames)
}

func TestTrajectoryRepository_ListLoadAllDelete(t *testing.T) {
	s := newTestStore(t)
	repo := s.Trajectories()

	ids := map[string]string{}
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		id, err := repo.Create(testTrajectory(name, 5))
		require.NoError(t, err, "Create %s", name)
		ids[name] = id
	}

	records, err := repo.List()
	require.NoError(t, err)
	var names []string
	for _, r := range records {
		names = append(names, r.Name)
		assert.Equal(t, 5, r.NumFrames, r.Name)
		assert.False(t, r.CreatedAt.IsZero(), "CreatedAt should be set")
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)

	all, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 5, all[0].Len())

	require.NoError(t, repo.Delete(ids["b.txt"]))
	_, err = repo.Get(ids["b.txt"])
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ids["b.txt"]), ErrNotFound)

	var frames int
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM trajectory_frames WHERE trajectory_id = ?`, ids["b.txt"],
	).Scan(&frames))
	assert.Zero(t, frames, "frames of a deleted trajectory remain")
}

func TestTrajectoryRepository_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Trajectories().Create(&trajectory.Trajectory{Name: "empty"})
	assert.Error(t, err)
}

func TestStatsRepository_SaveLatest(t *testing.T) {
	s := newTestStore(t)
	repo := s.Stats()

	first, err := datasets.NewNormStats(
		[]float32{0, 1}, []float32{1, 2},
		[]float32{0, 0, 0, 0}, []float32{1, 1, 1, 1},
	)
	require.NoError(t, err)
	second, err := datasets.NewNormStats(
		[]float32{5, 6}, []float32{0.5, 0.25},
		[]float32{1, 2, 3, 4}, []float32{2, 2, 2, 2},
	)
	require.NoError(t, err)

	firstID, err := repo.Save("run-a", first)
	require.NoError(t, err)
	_, err = repo.Save("run-a", second)
	require.NoError(t, err)

	latest, err := repo.Latest("run-a")
	require.NoError(t, err)
	assert.True(t, latest.Stats.Equal(second), "Latest did not return the most recent snapshot")

	rec, err := repo.Get(firstID)
	require.NoError(t, err)
	assert.True(t, rec.Stats.Equal(first))
	assert.Equal(t, "run-a", rec.Label)

	_, err = repo.Latest("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Save("x", nil)
	assert.ErrorIs(t, err, datasets.ErrInvalidArgument)
}
