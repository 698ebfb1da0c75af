package versioning

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

type DiffOp int

const (
	DiffContext DiffOp = iota
	DiffAdd
	DiffDelete
)

// DiffLine keeps its line terminator; a last line without one is reported
// as such.
type DiffLine struct {
	Op   DiffOp
	Text string
}

type DiffHunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []DiffLine
}

type FileDiff struct {
	Hunks     []DiffHunk
	Additions int
	Deletions int
}

func (d *FileDiff) Empty() bool {
	return len(d.Hunks) == 0
}

// edit is one step of the edit script. old and new are the line indexes
// the step sits at in base and target.
type edit struct {
	op  DiffOp
	old int
	new int
}

// Diff compares base with target line by line, keeping up to context
// unchanged lines around each change. Changes closer than twice the
// context share a hunk.
func Diff(base, target string, context int) *FileDiff {
	if context < 0 {
		context = 0
	}
	a, b := splitLines(base), splitLines(target)
	script := editScript(a, b)

	out := &FileDiff{}
	var changes []int
	for i, e := range script {
		switch e.op {
		case DiffAdd:
			out.Additions++
		case DiffDelete:
			out.Deletions++
		default:
			continue
		}
		changes = append(changes, i)
	}

	for len(changes) > 0 {
		last := 0
		for last+1 < len(changes) && changes[last+1]-changes[last] <= 2*context+1 {
			last++
		}
		start := max(changes[0]-context, 0)
		end := min(changes[last]+context+1, len(script))
		out.Hunks = append(out.Hunks, hunk(script[start:end], a, b))
		changes = changes[last+1:]
	}
	return out
}

func hunk(script []edit, a, b []string) DiffHunk {
	h := DiffHunk{OldStart: script[0].old, NewStart: script[0].new}
	for _, e := range script {
		switch e.op {
		case DiffAdd:
			h.NewCount++
			h.Lines = append(h.Lines, DiffLine{Op: DiffAdd, Text: b[e.new]})
		case DiffDelete:
			h.OldCount++
			h.Lines = append(h.Lines, DiffLine{Op: DiffDelete, Text: a[e.old]})
		default:
			h.OldCount++
			h.NewCount++
			h.Lines = append(h.Lines, DiffLine{Op: DiffContext, Text: a[e.old]})
		}
	}
	// an empty side is addressed by the line before it
	if h.OldCount > 0 {
		h.OldStart++
	}
	if h.NewCount > 0 {
		h.NewStart++
	}
	return h
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// editScript is the Myers shortest edit script from a to b.
func editScript(a, b []string) []edit {
	n, m := len(a), len(b)
	limit := n + m
	if limit == 0 {
		return nil
	}

	offset := limit
	v := make([]int, 2*limit+2)
	var trace [][]int
	for d := 0; d <= limit; d++ {
		trace = append(trace, slices.Clone(v))
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				return backtrack(trace, n, m, offset)
			}
		}
	}
	return nil
}

func backtrack(trace [][]int, n, m, offset int) []edit {
	var ops []edit
	x, y := n, m
	for d := len(trace) - 1; d >= 0; d-- {
		v := trace[d]
		k := x - y

		prevK := k - 1
		if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
			prevK = k + 1
		}
		prevX := v[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			ops = append(ops, edit{op: DiffContext, old: x, new: y})
		}
		if d > 0 {
			if x == prevX {
				ops = append(ops, edit{op: DiffAdd, old: prevX, new: prevY})
			} else {
				ops = append(ops, edit{op: DiffDelete, old: prevX, new: prevY})
			}
		}
		x, y = prevX, prevY
	}
	slices.Reverse(ops)
	return ops
}

// WriteUnified renders the diff in unified format.
func (d *FileDiff) WriteUnified(w io.Writer, oldName, newName string) error {
	if d.Empty() {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
	for _, h := range d.Hunks {
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(h.OldStart, h.OldCount), hunkRange(h.NewStart, h.NewCount))
		for _, l := range h.Lines {
			switch l.Op {
			case DiffAdd:
				b.WriteByte('+')
			case DiffDelete:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(l.Text)
			if !strings.HasSuffix(l.Text, "\n") {
				b.WriteString("\n\\ No newline at end of file\n")
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func hunkRange(start, count int) string {
	if count == 1 {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + "," + strconv.Itoa(count)
}
