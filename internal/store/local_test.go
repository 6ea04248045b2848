package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		DirName:          ".checkpoints",
		CompressionLevel: 3,
		Compression: CompressionPolicy{
			MinSize:        16,
			SkipExtensions: []string{"png"},
		},
		IgnorePatterns: []string{"node_modules", "*.log"},
		GCGrace:        time.Minute,
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func openTestStore(t *testing.T, project string) *Local {
	t.Helper()
	s, err := OpenOrCreate(project, testOptions(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLocal_CheckpointAndList(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "main.go", "package main\n")
	writeFile(t, project, "src/lib.go", "package src\n")
	writeFile(t, project, "node_modules/dep/index.js", "ignored")
	writeFile(t, project, "debug.log", "ignored")

	s := openTestStore(t, project)

	first, err := s.Checkpoint("first")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Metadata.FileCount)
	assert.Equal(t, int64(len("package main\n")+len("package src\n")), first.Metadata.TotalSize)
	assert.Empty(t, first.ParentID)
	assert.NotEmpty(t, first.Metadata.MerkleRoot)

	second, err := s.Checkpoint("second")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ParentID)
	assert.True(t, second.Timestamp.After(first.Timestamp))
	assert.Equal(t, first.Metadata.MerkleRoot, second.Metadata.MerkleRoot, "unchanged tree keeps its root")

	list, err := s.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Description)
	assert.Equal(t, "second", list[1].Description)
}

func TestLocal_Gitignore(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, ".gitignore", "# comment\nsecret.txt\nbuild/\n")
	writeFile(t, project, "secret.txt", "hidden")
	writeFile(t, project, "build/out.bin", "hidden")
	writeFile(t, project, "kept.txt", "kept")

	s := openTestStore(t, project)
	paths, err := s.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "kept.txt"}, paths)
}

func TestLocal_Restore(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "a.txt", "version one")
	writeFile(t, project, "b.txt", "stays")

	s := openTestStore(t, project)
	first, err := s.Checkpoint("first")
	require.NoError(t, err)

	writeFile(t, project, "a.txt", "version two")
	writeFile(t, project, "c.txt", "new file")
	second, err := s.Checkpoint("second")
	require.NoError(t, err)

	result, err := s.Restore(first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesRestored, "only a.txt differs")
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, int64(len("version one")), result.BytesWritten)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, "version one", readFile(t, project, "a.txt"))
	assert.Equal(t, "stays", readFile(t, project, "b.txt"))
	_, err = os.Stat(filepath.Join(project, "c.txt"))
	assert.True(t, os.IsNotExist(err))

	t.Run("later checkpoints survive", func(t *testing.T) {
		list, err := s.ListCheckpoints()
		require.NoError(t, err)
		assert.Len(t, list, 2)

		_, err = s.Restore(second.ID)
		require.NoError(t, err)
		assert.Equal(t, "version two", readFile(t, project, "a.txt"))
		assert.Equal(t, "new file", readFile(t, project, "c.txt"))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Restore("missing")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})
}

func TestLocal_Fork(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "a.txt", "one")

	s := openTestStore(t, project)
	first, err := s.Checkpoint("first")
	require.NoError(t, err)
	writeFile(t, project, "a.txt", "two")
	second, err := s.Checkpoint("second")
	require.NoError(t, err)

	fork, err := s.Fork(first.ID, "branch")
	require.NoError(t, err)
	assert.Equal(t, first.ID, fork.ParentID)
	assert.Equal(t, first.Metadata, fork.Metadata)
	assert.Equal(t, "branch", fork.Description)

	timeline, err := s.Timeline()
	require.NoError(t, err)
	assert.Equal(t, second.ID, timeline.CurrentCheckpointID, "fork does not move current")
	assert.Equal(t, 3, timeline.TotalCheckpoints)
	require.Len(t, timeline.Roots, 1)

	root := timeline.Roots[0]
	assert.Equal(t, first.ID, root.Checkpoint.ID)
	require.Len(t, root.Children, 2)
	assert.Equal(t, second.ID, root.Children[0].Checkpoint.ID)
	assert.Equal(t, fork.ID, root.Children[1].Checkpoint.ID)

	_, err = s.Fork("missing", "")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestLocal_Diff(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "same.txt", "same")
	writeFile(t, project, "changed.txt", "old")
	writeFile(t, project, "removed.txt", "bye")

	s := openTestStore(t, project)
	from, err := s.Checkpoint("from")
	require.NoError(t, err)

	writeFile(t, project, "changed.txt", "newer")
	require.NoError(t, os.Remove(filepath.Join(project, "removed.txt")))
	writeFile(t, project, "added.txt", "hello")
	to, err := s.Checkpoint("to")
	require.NoError(t, err)

	diff, err := s.Diff(from.ID, to.ID)
	require.NoError(t, err)
	require.Len(t, diff.AddedFiles, 1)
	require.Len(t, diff.ModifiedFiles, 1)
	require.Len(t, diff.DeletedFiles, 1)
	assert.Equal(t, "added.txt", diff.AddedFiles[0].Path)
	assert.Equal(t, "changed.txt", diff.ModifiedFiles[0].New.Path)
	assert.Equal(t, "removed.txt", diff.DeletedFiles[0].Path)
	assert.Equal(t, DiffStats{
		FilesAdded: 1, FilesModified: 1, FilesDeleted: 1,
		BytesAdded: 5, BytesModified: 5, BytesDeleted: 3,
	}, diff.Stats)

	t.Run("reverse swaps added and deleted", func(t *testing.T) {
		reverse, err := s.Diff(to.ID, from.ID)
		require.NoError(t, err)
		assert.Equal(t, diff.AddedFiles, reverse.DeletedFiles)
		assert.Equal(t, diff.DeletedFiles, reverse.AddedFiles)
		require.Len(t, reverse.ModifiedFiles, 1)
		assert.Equal(t, diff.ModifiedFiles[0].Old, reverse.ModifiedFiles[0].New)
	})

	t.Run("detailed", func(t *testing.T) {
		detailed, err := s.DiffDetailed(from.ID, to.ID, DefaultDiffOptions())
		require.NoError(t, err)
		require.Len(t, detailed.FileDiffs, 3)
		assert.Equal(t, "added.txt", detailed.FileDiffs[0].Path)
		assert.Equal(t, "changed.txt", detailed.FileDiffs[1].Path)
		assert.Equal(t, "removed.txt", detailed.FileDiffs[2].Path)
		assert.Equal(t, 2, detailed.TotalLinesAdded)
		assert.Equal(t, 2, detailed.TotalLinesDeleted)

		added := detailed.FileDiffs[0].Hunks
		require.Len(t, added, 1)
		assert.Equal(t, Hunk{
			FromLine: 0, FromCount: 0, ToLine: 1, ToCount: 1,
			Changes: []LineChange{{Kind: LineAdded, LineNumber: 1, Content: "hello"}},
		}, added[0])
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Diff(from.ID, "missing")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})
}

func TestLocal_DiffDetailedBinaryAndLarge(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "image.bin", "a\x00b")
	writeFile(t, project, "big.txt", "small")

	s := openTestStore(t, project)
	from, err := s.Checkpoint("from")
	require.NoError(t, err)

	writeFile(t, project, "image.bin", "c\x00d")
	writeFile(t, project, "big.txt", "this line is longer than the limit")
	to, err := s.Checkpoint("to")
	require.NoError(t, err)

	opts := DefaultDiffOptions()
	opts.MaxFileSize = 10
	detailed, err := s.DiffDetailed(from.ID, to.ID, opts)
	require.NoError(t, err)
	require.Len(t, detailed.FileDiffs, 2)

	big, image := detailed.FileDiffs[0], detailed.FileDiffs[1]
	assert.False(t, big.IsBinary)
	assert.Empty(t, big.Hunks)
	assert.True(t, image.IsBinary)
	assert.Empty(t, image.Hunks)
	assert.Zero(t, detailed.TotalLinesAdded)
}

func TestLocal_Verify(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "a.txt", "some content that is long enough to compress")
	writeFile(t, project, "b.txt", "short")

	s := openTestStore(t, project)
	cp, err := s.Checkpoint("cp")
	require.NoError(t, err)

	report, err := s.Verify(cp.ID)
	require.NoError(t, err)
	assert.True(t, report.IsValid())
	assert.Equal(t, 2, report.FilesChecked)

	t.Run("corrupted object", func(t *testing.T) {
		hash := HashContent([]byte("short"))
		require.NoError(t, os.WriteFile(s.objects.path(hash), []byte{objectRaw, 'x'}, 0644))

		report, err := s.Verify(cp.ID)
		require.NoError(t, err)
		assert.False(t, report.IsValid())
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "b.txt")
		assert.True(t, report.MerkleRootValid, "catalog rows are intact")
	})
}

func TestLocal_GC(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "a.txt", "referenced")

	s := openTestStore(t, project)
	_, err := s.Checkpoint("cp")
	require.NoError(t, err)

	oldHash, err := s.objects.put("old.png", []byte("orphan from long ago"))
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(s.objects.path(oldHash), past, past))

	freshHash, err := s.objects.put("fresh.txt", []byte("orphan written just now"))
	require.NoError(t, err)

	stats, err := s.GC()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ObjectsExamined)
	assert.Equal(t, 1, stats.ObjectsDeleted)
	assert.Equal(t, 1, stats.ObjectsReferenced)
	assert.Equal(t, int64(1+len("orphan from long ago")), stats.BytesReclaimed)

	_, err = os.Stat(s.objects.path(oldHash))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.objects.path(freshHash))
	assert.NoError(t, err, "objects inside the grace window survive")
}

func TestLocal_ReopenKeepsSettings(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "a.txt", "one")
	writeFile(t, project, "skip.tmp", "two")

	opts := testOptions()
	opts.IgnorePatterns = []string{"*.tmp"}
	created, err := Create(project, opts, zap.NewNop())
	require.NoError(t, err)
	first, err := created.Checkpoint("first")
	require.NoError(t, err)
	require.NoError(t, created.Close())

	// options passed on reopen do not override what the store was created with
	reopened, err := Open(project, testOptions(), zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	paths, err := reopened.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, paths)

	second, err := reopened.Checkpoint("second")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ParentID)
	assert.True(t, second.Timestamp.After(first.Timestamp))
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(t.TempDir(), testOptions(), zap.NewNop())
	assert.Error(t, err)
}

func TestLocalOpener(t *testing.T) {
	project := t.TempDir()
	opener := LocalOpener(testOptions(), zap.NewNop())

	s, err := opener.OpenOrCreate(project)
	require.NoError(t, err)
	defer s.Close()

	w, ok := s.(Watchable)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(project, ".checkpoints"), w.Dir())
}
