package blockfs_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blockfs/testutil"
)

// The scenario suite runs against the reference geometry: a 1 GiB
// partition with 1 KiB blocks and a fresh header.
const (
	scenarioPartitionSize = 1 << 30
	scenarioBlockSize     = 1024
)

func TestScenarioHelloWorld(t *testing.T) {
	fs, _ := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	require.NoError(t, fs.CreateDirectory("Foo/Bar/Baz"))
	require.NoError(t, fs.CreateFile("Foo/Bar/Baz/Test.txt"))

	payload := []byte("Hello, World!\x00")
	require.NoError(t, fs.WriteAt("Foo/Bar/Baz/Test.txt", payload, 0))

	out := make([]byte, len(payload))
	n, err := fs.ReadAt("Foo/Bar/Baz/Test.txt", out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)

	testutil.RequireClean(t, fs)
}

func TestScenarioLargeFile(t *testing.T) {
	fs, _ := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	payload := testutil.Pattern(10_000_001)

	require.NoError(t, fs.CreateFile("TestFile"))
	require.NoError(t, fs.WriteAt("TestFile", payload, 0))

	size, err := fs.GetFileSize("TestFile")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), size)

	out := make([]byte, len(payload))
	n, err := fs.ReadAt("TestFile", out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)

	testutil.RequireClean(t, fs)
}

func TestScenarioMidFileOverwrite(t *testing.T) {
	fs, _ := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	first := []byte("Hello, World! Destroy All Humans! Hello, World!\x00")
	require.Len(t, first, 48)
	second := []byte("Pumpkin Pie Humans, Pumpkin Pie Humans, Pumpkin Pie Humans, Pumpkin Pie Humans\x00")
	require.Len(t, second, 79)

	require.NoError(t, fs.CreateFile("story.txt"))
	require.NoError(t, fs.WriteAt("story.txt", first, 0))
	require.NoError(t, fs.WriteAt("story.txt", second, 14))

	want := []byte("Hello, World! Pumpkin Pie Humans, Pumpkin Pie Humans, Pumpkin Pie Humans, Pumpkin Pie Humans\x00")
	require.Len(t, want, 93)

	size, err := fs.GetFileSize("story.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(93), size)

	out := make([]byte, 93)
	n, err := fs.ReadAt("story.txt", out, 0)
	require.NoError(t, err)
	require.Equal(t, 93, n)
	assert.Equal(t, want, out)

	testutil.RequireClean(t, fs)
}

func TestScenarioBulkTree(t *testing.T) {
	fs, _ := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	require.NoError(t, fs.CreateDirectory("Foo/Bar"))
	for i := 0; i < 10; i++ {
		dir := fmt.Sprintf("Foo/Bar/sub%02d", i)
		require.NoError(t, fs.CreateDirectory(dir))
		if i%3 == 0 {
			require.NoError(t, fs.CreateFile(dir+"/file.txt"))
		}
	}

	for i := 0; i < 10; i++ {
		dir := fmt.Sprintf("Foo/Bar/sub%02d", i)
		assert.True(t, fs.DirectoryExists(dir))
		if i%3 == 0 {
			assert.True(t, fs.FileExists(dir+"/file.txt"))
		}
	}

	require.NoError(t, fs.LogTree())
	testutil.RequireClean(t, fs)
}

func TestScenarioMoveWithinDirectory(t *testing.T) {
	fs, _ := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	payload := testutil.RandomBytes(42, 3333)

	require.NoError(t, fs.CreateDirectory("a"))
	require.NoError(t, fs.CreateFile("a/b"))
	require.NoError(t, fs.WriteAt("a/b", payload, 0))
	require.NoError(t, fs.MoveFile("a/b", "a/c"))

	out := make([]byte, len(payload))
	n, err := fs.ReadAt("a/c", out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)

	assert.False(t, fs.FileExists("a/b"))

	testutil.RequireClean(t, fs)
}

func TestScenarioDeleteFreesBitmap(t *testing.T) {
	fs, _ := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	_, freeBefore, err := fs.TotalAndFreeBytes()
	require.NoError(t, err)

	// A directory tree carrying roughly 100 KB of file content.
	require.NoError(t, fs.CreateDirectory("tree/left"))
	require.NoError(t, fs.CreateDirectory("tree/right"))
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("tree/left/f%02d", i)
		require.NoError(t, fs.CreateFile(path))
		require.NoError(t, fs.WriteAt(path, testutil.RandomBytes(int64(i), 10_000), 0))
	}

	// Tear everything down again.
	for i := 0; i < 10; i++ {
		require.NoError(t, fs.DeleteFile(fmt.Sprintf("tree/left/f%02d", i)))
	}
	require.NoError(t, fs.DeleteDirectory("tree/left"))
	require.NoError(t, fs.DeleteDirectory("tree/right"))
	require.NoError(t, fs.DeleteDirectory("tree"))

	_, freeAfter, err := fs.TotalAndFreeBytes()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfter, "free bytes must return to the captured value exactly")

	testutil.RequireClean(t, fs)
}

func TestScenarioCursedPath(t *testing.T) {
	fs, _ := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	require.NoError(t, fs.CreateDirectory("Foo/Bar/Baz\\a/b/\\d/test/welp\\\\dead/fart"))

	// The cursed spelling normalizes into a single nested chain.
	steps := []string{
		"Foo",
		"Foo/Bar",
		"Foo/Bar/Baz",
		"Foo/Bar/Baz/a",
		"Foo/Bar/Baz/a/b",
		"Foo/Bar/Baz/a/b/d",
		"Foo/Bar/Baz/a/b/d/test",
		"Foo/Bar/Baz/a/b/d/test/welp",
		"Foo/Bar/Baz/a/b/d/test/welp/dead",
		"Foo/Bar/Baz/a/b/d/test/welp/dead/fart",
	}
	for _, step := range steps {
		assert.True(t, fs.DirectoryExists(step), "missing %q", step)
	}

	// Every level holds exactly its successor.
	for i := 0; i < len(steps)-1; i++ {
		dir, err := fs.GetDirectory(steps[i])
		require.NoError(t, err)
		assert.Len(t, dir.Entries, 1)
	}

	testutil.RequireClean(t, fs)
}

func TestScenarioReopenAfterBulkWork(t *testing.T) {
	fs, dev := testutil.NewFS(t, scenarioPartitionSize, scenarioBlockSize)

	payload := testutil.Pattern(250_000)
	require.NoError(t, fs.CreateDirectory("persisted"))
	require.NoError(t, fs.CreateFile("persisted/blob.bin"))
	require.NoError(t, fs.WriteAt("persisted/blob.bin", payload, 0))

	reopened := testutil.Reopen(t, dev, scenarioBlockSize)

	out := make([]byte, len(payload))
	n, err := reopened.ReadAt("persisted/blob.bin", out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)

	testutil.RequireClean(t, reopened)
}
