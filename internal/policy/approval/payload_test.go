package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnifiedDiff_Identical(t *testing.T) {
	diff, added, deleted := UnifiedDiff("a.txt", "same\n", "same\n")
	assert.Empty(t, diff)
	assert.Zero(t, added)
	assert.Zero(t, deleted)
}

func TestUnifiedDiff_SingleLineChange(t *testing.T) {
	before := "one\ntwo\nthree\n"
	after := "one\n2\nthree\n"

	diff, added, deleted := UnifiedDiff("nums.txt", before, after)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, "--- a/nums.txt\n+++ b/nums.txt\n@@ -1,3 +1,3 @@\n one\n-two\n+2\n three\n", diff)
}

func TestUnifiedDiff_NewFile(t *testing.T) {
	diff, added, deleted := UnifiedDiff("new.go", "", "package x\n\nfunc F() {}\n")
	assert.Equal(t, 3, added)
	assert.Zero(t, deleted)
	assert.Contains(t, diff, "@@ -1,0 +1,3 @@")
	assert.Contains(t, diff, "+package x\n")
}

func TestUnifiedDiff_SeparateHunks(t *testing.T) {
	var before, after string
	for i := 0; i < 20; i++ {
		line := string(rune('a'+i)) + "\n"
		before += line
		switch i {
		case 1:
			after += "B\n"
		case 18:
			after += "S\n"
		default:
			after += line
		}
	}

	diff, added, deleted := UnifiedDiff("letters", before, after)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, deleted)
	assert.Contains(t, diff, "@@ -1,5 +1,5 @@")
	assert.Contains(t, diff, "@@ -16,5 +16,5 @@")
	assert.Contains(t, diff, "@@ -1,5 +1,5 @@\n a\n-b\n+B\n c\n d\n e\n")
	assert.Contains(t, diff, " r\n-s\n+S\n t\n")
}

func TestUnifiedDiff_RepeatedAndUnterminatedLines(t *testing.T) {
	before := "x\nx\ny\nx"
	after := "x\ny\nx\nz"

	diff, added, deleted := UnifiedDiff("r.txt", before, after)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, deleted)
	assert.Contains(t, diff, "-x\n")
	assert.Contains(t, diff, "+z\n")
}

func TestBuildEditPayload(t *testing.T) {
	p := BuildEditPayload("f.txt", "x\n", "y\n")
	assert.Equal(t, "f.txt", p.Path)
	assert.False(t, p.Created)
	assert.Equal(t, 1, p.Added)
	assert.Equal(t, 1, p.Deleted)
	assert.Contains(t, p.Diff, "-x\n+y\n")
}
