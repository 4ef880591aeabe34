package trajectory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Write serializes t in the capture rig's text format, one frame per line
// followed by the landing line. Parse(Write(t)) reproduces t.
func Write(w io.Writer, t *Trajectory) error {
	if err := t.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for i, frame := range t.Frames {
		if err := writeLine(bw, t.FrameIDs[i], frame); err != nil {
			return err
		}
	}
	if err := writeLine(bw, t.DropFrame, t.LabelXYZ[:]); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteFile writes t to path, creating or truncating the file.
func WriteFile(path string, t *Trajectory) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trajectory file: %w", err)
	}
	if err := Write(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write trajectory %s: %w", path, err)
	}
	return f.Close()
}

func writeLine(w *bufio.Writer, id int, values []float32) error {
	buf := strconv.AppendInt(nil, int64(id), 10)
	buf = append(buf, ':')
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
