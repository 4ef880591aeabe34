// Package export materializes dataset windows into Parquet files for offline
// inspection and for training jobs that do not link this module.
package export

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/Noofbiz/shuttle/datasets"
)

// WindowRow is one materialized example. Features holds Length*NumFeatures
// normalized values, frame-major.
type WindowRow struct {
	Name        string    `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Entry       int64     `parquet:"name=entry, type=INT64"`
	Start       int32     `parquet:"name=start, type=INT32"`
	End         int32     `parquet:"name=end, type=INT32"`
	Length      int32     `parquet:"name=length, type=INT32"`
	NumFeatures int32     `parquet:"name=num_features, type=INT32"`
	Features    []float32 `parquet:"name=features, type=LIST, valuetype=FLOAT"`
	LandX       float32   `parquet:"name=land_x, type=FLOAT"`
	LandY       float32   `parquet:"name=land_y, type=FLOAT"`
	LandZ       float32   `parquet:"name=land_z, type=FLOAT"`
	TimeToDrop  float32   `parquet:"name=time_to_drop, type=FLOAT"`
	RawTime     float32   `parquet:"name=raw_time_to_drop, type=FLOAT"`
}

// Frames unflattens Features into Length rows.
func (r WindowRow) Frames() [][]float32 {
	out := make([][]float32, r.Length)
	f := int(r.NumFeatures)
	for i := range out {
		out[i] = r.Features[i*f : (i+1)*f]
	}
	return out
}

// Rows draws one example per dataset entry with rng and returns them as rows.
// Labels are normalized; RawTime keeps the time to drop in frame units.
func Rows(ds *datasets.Dataset, rng *rand.Rand) ([]WindowRow, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: dataset cannot be nil", datasets.ErrInvalidArgument)
	}
	acc := ds.Accessor()
	rows := make([]WindowRow, 0, ds.Len())
	for i := range ds.Len() {
		e, err := ds.Entry(i)
		if err != nil {
			return nil, err
		}
		ex, err := acc.Access(e, rng)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		width := 0
		if ex.Length > 0 {
			width = len(ex.Sequence[0])
		}
		flat := make([]float32, 0, ex.Length*width)
		for _, frame := range ex.Sequence {
			flat = append(flat, frame...)
		}
		rows = append(rows, WindowRow{
			Name:        e.Trajectory.Name,
			Entry:       int64(i),
			Start:       int32(ex.Window.Start),
			End:         int32(ex.Window.End),
			Length:      int32(ex.Length),
			NumFeatures: int32(width),
			Features:    flat,
			LandX:       ex.LabelXYZ[0],
			LandY:       ex.LabelXYZ[1],
			LandZ:       ex.LabelXYZ[2],
			TimeToDrop:  ex.LabelTime,
			RawTime:     e.Trajectory.TimeToDrop(ex.Window.End),
		})
	}
	return rows, nil
}

// Marshal encodes rows as a Snappy-compressed Parquet file.
func Marshal(rows []WindowRow) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(WindowRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

// Unmarshal decodes a file produced by Marshal.
func Unmarshal(data []byte) ([]WindowRow, error) {
	fr := parquetbuffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(WindowRow), 4)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]WindowRow, n)
	if n == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows, nil
}

// WriteFile marshals rows and writes them to path, creating parent
// directories.
func WriteFile(path string, rows []WindowRow) error {
	data, err := Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode parquet: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile reads rows written by WriteFile.
func ReadFile(path string) ([]WindowRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
