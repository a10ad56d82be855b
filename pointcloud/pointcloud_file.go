package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(fn string, logger golog.Logger) (*PointCloud, error) {
	switch filepath.Ext(fn) {
	case ".pcd":
		f, err := os.Open(filepath.Clean(fn))
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		pc, err := ReadPCD(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %q", fn)
		}
		logger.Debugw("read pcd", "path", fn, "points", pc.Size(), "normals", pc.HasNormals())
		return pc, nil
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud out to a pcd file in binary format.
func WriteToFile(pc *PointCloud, fn string) (err error) {
	f, err := os.Create(filepath.Clean(fn))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ToPCD(pc, f, PCDBinary)
}

type pcdFieldLayout int

const (
	pcdPointOnly   pcdFieldLayout = 3
	pcdPointNormal pcdFieldLayout = 6
)

type pcdHeader struct {
	fields pcdFieldLayout
	size   []uint64
	count  []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// ToPCD writes the cloud out in PCD format. Positions are always written;
// normals are included when the cloud carries them.
func ToPCD(pc *PointCloud, out io.Writer, outputType PCDType) error {
	var err error
	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	if pc.HasNormals() {
		_, err = fmt.Fprintf(out, "FIELDS x y z normal_x normal_y normal_z\n"+
			"SIZE 4 4 4 4 4 4\n"+
			"TYPE F F F F F F\n"+
			"COUNT 1 1 1 1 1 1\n")
	} else {
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		pc.Size(), 1, pc.Size())
	if err != nil {
		return err
	}
	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.Errorf("unsupported pcd output type %v", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(pc, out, outputType)
}

func writePCDData(pc *PointCloud, out io.Writer, pcdtype PCDType) error {
	normals := pc.Normals()
	for i, p := range pc.Points() {
		row := []float64{p.X, p.Y, p.Z}
		if normals != nil {
			row = append(row, normals[i].X, normals[i].Y, normals[i].Z)
		}
		switch pcdtype {
		case PCDBinary:
			buf := make([]byte, 4*len(row))
			for j, v := range row {
				binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(float32(v)))
			}
			if _, err := out.Write(buf); err != nil {
				return err
			}
		case PCDAscii:
			strs := make([]string, len(row))
			for j, v := range row {
				strs[j] = strconv.FormatFloat(v, 'f', -1, 32)
			}
			if _, err := fmt.Fprintln(out, strings.Join(strs, " ")); err != nil {
				return err
			}
		}
	}
	return nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return fmt.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return fmt.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z normal_x normal_y normal_z":
			header.fields = pcdPointNormal
		default:
			return fmt.Errorf("unsupported pcd fields %q", value)
		}
	case "SIZE":
		if len(tokens) != int(header.fields) {
			return fmt.Errorf("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != int(header.fields) {
			return fmt.Errorf("unexpected number of fields in TYPE line")
		}
		for _, token := range tokens {
			if token != "F" {
				return fmt.Errorf("unsupported pcd field type %s", token)
			}
		}
	case "COUNT":
		if len(tokens) != int(header.fields) {
			return fmt.Errorf("unexpected number of fields in COUNT line")
		}
		header.count = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid COUNT field %s: %s", token, err)
			}
			if header.count[i] != 1 {
				return fmt.Errorf("unsupported pcd field count %d", header.count[i])
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WIDTH field %s: %s", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid HEIGHT field %s: %s", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return fmt.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid POINTS field %s: %s", value, err)
		}
		if points != header.width*header.height {
			return fmt.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		default:
			return fmt.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads a PCD file into a point cloud, including normals when the
// file carries them.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	var line string
	var err error
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err = in.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header line %d: %s", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, fmt.Errorf("unsupported pcd data type %v", header.data)
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	rows := make([][]float64, int(header.points))
	for i := range rows {
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return nil, fmt.Errorf("unexpected number of fields in point %d", i)
		}
		row := make([]float64, len(tokens))
		for j, token := range tokens {
			row[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid point %d field %s: %s", i, token, err)
			}
		}
		rows[i] = row
	}
	return cloudFromPCDRows(rows, header)
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	rows := make([][]float64, int(header.points))
	for i := range rows {
		row := make([]float64, int(header.fields))
		for j := range row {
			buf := make([]byte, header.size[j])
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, err
			}
			row[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
		rows[i] = row
	}
	return cloudFromPCDRows(rows, header)
}

func cloudFromPCDRows(rows [][]float64, header pcdHeader) (*PointCloud, error) {
	pc := NewWithPrealloc(len(rows))
	var normals []r3.Vector
	if header.fields == pcdPointNormal {
		normals = make([]r3.Vector, len(rows))
	}
	for i, row := range rows {
		if err := pc.Add(r3.Vector{X: row[0], Y: row[1], Z: row[2]}); err != nil {
			return nil, err
		}
		if normals != nil {
			normals[i] = r3.Vector{X: row[3], Y: row[4], Z: row[5]}
		}
	}
	if normals != nil {
		if err := pc.SetNormals(normals); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
