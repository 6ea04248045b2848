// internal/checkpoint/unified.go
package checkpoint

import (
	"bytes"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// RenderUnified prints a detailed diff in unified diff format
func RenderUnified(d *DetailedDiffResponse) (string, error) {
	added := make(map[string]bool, len(d.BasicDiff.AddedFiles))
	for _, f := range d.BasicDiff.AddedFiles {
		added[f.Path] = true
	}
	deleted := make(map[string]bool, len(d.BasicDiff.DeletedFiles))
	for _, f := range d.BasicDiff.DeletedFiles {
		deleted[f.Path] = true
	}

	fileDiffs := make([]*diff.FileDiff, 0, len(d.FileDiffs))
	for _, fd := range d.FileDiffs {
		origName, newName := "a/"+fd.Path, "b/"+fd.Path
		if added[fd.Path] {
			origName = devNull
		}
		if deleted[fd.Path] {
			newName = devNull
		}

		out := &diff.FileDiff{
			OrigName: origName,
			NewName:  newName,
			Extended: []string{fmt.Sprintf("diff --git a/%s b/%s", fd.Path, fd.Path)},
		}
		if fd.IsBinary {
			out.Extended = append(out.Extended, fmt.Sprintf("Binary files %s and %s differ", origName, newName))
			fileDiffs = append(fileDiffs, out)
			continue
		}

		for _, h := range fd.Hunks {
			out.Hunks = append(out.Hunks, &diff.Hunk{
				OrigStartLine: int32(h.FromLine),
				OrigLines:     int32(h.FromCount),
				NewStartLine:  int32(h.ToLine),
				NewLines:      int32(h.ToCount),
				Body:          hunkBody(h.Changes),
			})
		}
		fileDiffs = append(fileDiffs, out)
	}

	printed, err := diff.PrintMultiFileDiff(fileDiffs)
	if err != nil {
		return "", fmt.Errorf("print unified diff: %w", err)
	}
	return string(printed), nil
}

func hunkBody(changes []LineChangeResponse) []byte {
	var buf bytes.Buffer
	for _, c := range changes {
		switch c.ChangeType {
		case "added":
			buf.WriteByte('+')
		case "deleted":
			buf.WriteByte('-')
		default:
			buf.WriteByte(' ')
		}
		buf.WriteString(c.Content)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
