package trajectory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrMalformed is wrapped by every ParseError caused by file content (as
// opposed to I/O failures).
var ErrMalformed = errors.New("malformed trajectory file")

// ParseError reports why a trajectory file could not be parsed. Line is
// 1-based and zero when the problem concerns the file as a whole.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseOptions controls how tolerant the parser is with over-long rows.
type ParseOptions struct {
	// StrictWidth turns frame rows with more than FeatureDim values and label
	// rows with more than LabelDim values into errors. By default the extra
	// values are silently dropped.
	StrictWidth bool
}

// ParseFile parses a single trajectory file. The base name of path becomes the
// trajectory Name; errors carry the full path.
func ParseFile(path string, opts ParseOptions) (*Trajectory, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer file.Close()

	t, err := Parse(file, path, opts)
	if err != nil {
		return nil, err
	}
	t.Name = filepath.Base(path)
	return t, nil
}

// Parse reads a trajectory from r. Each non-terminal line has the form
// "<frame_id>:<c0,...,c62>" and the last line "<drop_frame>:<x,y,z>". Blank
// lines are ignored. name is used for error messages and as the trajectory
// Name.
func Parse(r io.Reader, name string, opts ParseOptions) (*Trajectory, error) {
	type numbered struct {
		text string
		line int
	}

	var lines []numbered
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		lines = append(lines, numbered{text: text, line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: name, Err: err}
	}

	if len(lines) < 2 {
		return nil, &ParseError{Path: name, Err: fmt.Errorf("%w: %d non-empty lines, need at least 2", ErrMalformed, len(lines))}
	}

	last := lines[len(lines)-1]
	dropFrame, xyz, err := parseLine(last.text)
	if err != nil {
		return nil, &ParseError{Path: name, Line: last.line, Err: err}
	}
	labels, err := fitWidth(xyz, LabelDim, opts.StrictWidth)
	if err != nil {
		return nil, &ParseError{Path: name, Line: last.line, Err: fmt.Errorf("landing point: %w", err)}
	}

	t := &Trajectory{
		Name:      name,
		Frames:    make([][]float32, 0, len(lines)-1),
		FrameIDs:  make([]int, 0, len(lines)-1),
		DropFrame: dropFrame,
	}
	copy(t.LabelXYZ[:], labels)

	for _, ln := range lines[:len(lines)-1] {
		fid, coords, err := parseLine(ln.text)
		if err != nil {
			return nil, &ParseError{Path: name, Line: ln.line, Err: err}
		}
		coords, err = fitWidth(coords, FeatureDim, opts.StrictWidth)
		if err != nil {
			return nil, &ParseError{Path: name, Line: ln.line, Err: fmt.Errorf("frame %d: %w", fid, err)}
		}
		if n := len(t.FrameIDs); n > 0 && fid <= t.FrameIDs[n-1] {
			return nil, &ParseError{Path: name, Line: ln.line,
				Err: fmt.Errorf("%w: frame id %d does not follow %d", ErrMalformed, fid, t.FrameIDs[n-1])}
		}
		t.FrameIDs = append(t.FrameIDs, fid)
		t.Frames = append(t.Frames, coords)
	}

	if err := t.Validate(); err != nil {
		return nil, &ParseError{Path: name, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return t, nil
}

// parseLine splits "<int>:<f0,f1,...>" into its parts.
func parseLine(text string) (int, []float32, error) {
	idStr, valuesStr, ok := strings.Cut(text, ":")
	if !ok {
		return 0, nil, fmt.Errorf("%w: missing ':' separator", ErrMalformed)
	}
	id, err := strconv.Atoi(strings.TrimSpace(idStr))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: frame index %q: %v", ErrMalformed, idStr, err)
	}
	fields := strings.Split(valuesStr, ",")
	values := make([]float32, len(fields))
	for i, f := range fields {
		v, err := parseFloat32(f)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: value %d: %v", ErrMalformed, i, err)
		}
		values[i] = v
	}
	return id, values, nil
}

// fitWidth enforces the expected row width. Longer rows are truncated unless
// strict; shorter rows are always an error.
func fitWidth(values []float32, want int, strict bool) ([]float32, error) {
	switch {
	case len(values) == want:
		return values, nil
	case len(values) < want:
		return nil, fmt.Errorf("%w: %d values, expected %d", ErrMalformed, len(values), want)
	case strict:
		return nil, fmt.Errorf("%w: %d values, expected %d", ErrMalformed, len(values), want)
	default:
		return values[:want:want], nil
	}
}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return float32(v), nil
}
