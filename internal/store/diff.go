package store

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"checkpointd/internal/database"
)

// binarySniffLen is how many leading bytes are checked for NUL
const binarySniffLen = 8000

// Diff compares the file trees of two checkpoints
func (s *Local) Diff(fromID, toID string) (*CheckpointDiff, error) {
	fromFiles, err := s.checkpointFiles(fromID)
	if err != nil {
		return nil, err
	}
	toFiles, err := s.checkpointFiles(toID)
	if err != nil {
		return nil, err
	}
	return compareTrees(fromID, toID, fromFiles, toFiles), nil
}

func (s *Local) checkpointFiles(id string) ([]database.FileRow, error) {
	if _, err := s.getCheckpoint(id); err != nil {
		return nil, err
	}
	files, err := s.db.ListFiles(id)
	if err != nil {
		return nil, fmt.Errorf("load files of %s: %w", id, err)
	}
	return files, nil
}

func compareTrees(fromID, toID string, fromFiles, toFiles []database.FileRow) *CheckpointDiff {
	fromMap := make(map[string]database.FileRow, len(fromFiles))
	for _, f := range fromFiles {
		fromMap[f.Path] = f
	}
	toMap := make(map[string]database.FileRow, len(toFiles))
	for _, f := range toFiles {
		toMap[f.Path] = f
	}

	diff := &CheckpointDiff{
		FromID:        fromID,
		ToID:          toID,
		AddedFiles:    []FileEntry{},
		ModifiedFiles: []ModifiedFile{},
		DeletedFiles:  []FileEntry{},
	}

	for _, from := range fromFiles {
		to, exists := toMap[from.Path]
		if !exists {
			diff.DeletedFiles = append(diff.DeletedFiles, toEntry(from))
			diff.Stats.FilesDeleted++
			diff.Stats.BytesDeleted += from.Size
			continue
		}
		if from.Hash != to.Hash {
			diff.ModifiedFiles = append(diff.ModifiedFiles, ModifiedFile{Old: toEntry(from), New: toEntry(to)})
			diff.Stats.FilesModified++
			diff.Stats.BytesModified += to.Size
		}
	}
	for _, to := range toFiles {
		if _, exists := fromMap[to.Path]; !exists {
			diff.AddedFiles = append(diff.AddedFiles, toEntry(to))
			diff.Stats.FilesAdded++
			diff.Stats.BytesAdded += to.Size
		}
	}

	sort.Slice(diff.AddedFiles, func(i, j int) bool { return diff.AddedFiles[i].Path < diff.AddedFiles[j].Path })
	sort.Slice(diff.ModifiedFiles, func(i, j int) bool { return diff.ModifiedFiles[i].New.Path < diff.ModifiedFiles[j].New.Path })
	sort.Slice(diff.DeletedFiles, func(i, j int) bool { return diff.DeletedFiles[i].Path < diff.DeletedFiles[j].Path })
	return diff
}

func toEntry(f database.FileRow) FileEntry {
	return FileEntry{Path: f.Path, Hash: f.Hash, Size: f.Size, Mode: f.Mode}
}

// DiffDetailed adds line-level hunks for every changed text file
func (s *Local) DiffDetailed(fromID, toID string, opts DiffOptions) (*DetailedCheckpointDiff, error) {
	basic, err := s.Diff(fromID, toID)
	if err != nil {
		return nil, err
	}

	detailed := &DetailedCheckpointDiff{
		BasicDiff: *basic,
		FileDiffs: []FileDiff{},
	}

	add := func(fd FileDiff) {
		for _, h := range fd.Hunks {
			for _, c := range h.Changes {
				switch c.Kind {
				case LineAdded:
					detailed.TotalLinesAdded++
				case LineDeleted:
					detailed.TotalLinesDeleted++
				}
			}
		}
		detailed.FileDiffs = append(detailed.FileDiffs, fd)
	}

	for _, f := range basic.AddedFiles {
		fd, err := s.fileDiff(f.Path, nil, &f, opts)
		if err != nil {
			return nil, err
		}
		add(fd)
	}
	for _, m := range basic.ModifiedFiles {
		fd, err := s.fileDiff(m.New.Path, &m.Old, &m.New, opts)
		if err != nil {
			return nil, err
		}
		add(fd)
	}
	for _, f := range basic.DeletedFiles {
		fd, err := s.fileDiff(f.Path, &f, nil, opts)
		if err != nil {
			return nil, err
		}
		add(fd)
	}

	sort.Slice(detailed.FileDiffs, func(i, j int) bool { return detailed.FileDiffs[i].Path < detailed.FileDiffs[j].Path })
	return detailed, nil
}

// fileDiff diffs one path. A nil side means the file is absent in that checkpoint.
func (s *Local) fileDiff(path string, from, to *FileEntry, opts DiffOptions) (FileDiff, error) {
	fd := FileDiff{Path: path, Hunks: []Hunk{}}

	if opts.MaxFileSize > 0 && ((from != nil && from.Size > opts.MaxFileSize) || (to != nil && to.Size > opts.MaxFileSize)) {
		return fd, nil
	}

	var oldContent, newContent []byte
	var err error
	if from != nil {
		if oldContent, err = s.objects.get(from.Hash); err != nil {
			return fd, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if to != nil {
		if newContent, err = s.objects.get(to.Hash); err != nil {
			return fd, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if isBinary(oldContent) || isBinary(newContent) {
		fd.IsBinary = true
		return fd, nil
	}

	fd.Hunks = diffLines(splitLines(oldContent), splitLines(newContent), opts)
	return fd, nil
}

func isBinary(content []byte) bool {
	if len(content) > binarySniffLen {
		content = content[:binarySniffLen]
	}
	return bytes.IndexByte(content, 0) >= 0
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(content), "\n")
	return strings.Split(text, "\n")
}

func normalizeLine(line string, ignoreWhitespace bool) string {
	line = strings.TrimSuffix(line, "\r")
	if ignoreWhitespace {
		return strings.Join(strings.Fields(line), " ")
	}
	return line
}

// lineOp is one line of the full edit script with the number of old and new
// lines consumed before it
type lineOp struct {
	kind      LineKind
	content   string
	oldBefore int
	newBefore int
}

// editScript runs a line-mode diff over normalized lines and maps the result back
// onto the original text
func editScript(oldLines, newLines []string, ignoreWhitespace bool) []lineOp {
	join := func(lines []string) string {
		var b strings.Builder
		for _, l := range lines {
			b.WriteString(normalizeLine(l, ignoreWhitespace))
			b.WriteByte('\n')
		}
		return b.String()
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(join(oldLines), join(newLines))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var ops []lineOp
	oldPos, newPos := 0, 0
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		for i := 0; i < n; i++ {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, lineOp{kind: LineContext, content: newLines[newPos], oldBefore: oldPos, newBefore: newPos})
				oldPos++
				newPos++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, lineOp{kind: LineDeleted, content: oldLines[oldPos], oldBefore: oldPos, newBefore: newPos})
				oldPos++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, lineOp{kind: LineAdded, content: newLines[newPos], oldBefore: oldPos, newBefore: newPos})
				newPos++
			}
		}
	}
	return ops
}

// diffLines groups the edit script into hunks with opts.ContextLines of context.
// Changes separated by at most twice the context share a hunk.
func diffLines(oldLines, newLines []string, opts DiffOptions) []Hunk {
	ops := editScript(oldLines, newLines, opts.IgnoreWhitespace)
	ctx := opts.ContextLines
	if ctx < 0 {
		ctx = 0
	}

	var changed []int
	for i, op := range ops {
		if op.kind != LineContext {
			changed = append(changed, i)
		}
	}

	hunks := []Hunk{}
	for i := 0; i < len(changed); {
		first, last := changed[i], changed[i]
		j := i + 1
		for j < len(changed) && changed[j]-last-1 <= 2*ctx {
			last = changed[j]
			j++
		}
		i = j

		start := first - ctx
		if start < 0 {
			start = 0
		}
		end := last + ctx
		if end > len(ops)-1 {
			end = len(ops) - 1
		}
		hunks = append(hunks, buildHunk(ops[start:end+1], opts.ShowLineNumbers))
	}
	return hunks
}

func buildHunk(ops []lineOp, showLineNumbers bool) Hunk {
	h := Hunk{Changes: make([]LineChange, 0, len(ops))}
	for _, op := range ops {
		line := op.newBefore + 1
		switch op.kind {
		case LineContext:
			h.FromCount++
			h.ToCount++
		case LineDeleted:
			h.FromCount++
			line = op.oldBefore + 1
		case LineAdded:
			h.ToCount++
		}
		if !showLineNumbers {
			line = 0
		}
		h.Changes = append(h.Changes, LineChange{Kind: op.kind, LineNumber: line, Content: op.content})
	}

	// an empty side points at the line before the hunk, as unified diffs do
	h.FromLine = ops[0].oldBefore
	if h.FromCount > 0 {
		h.FromLine++
	}
	h.ToLine = ops[0].newBefore
	if h.ToCount > 0 {
		h.ToLine++
	}
	return h
}
