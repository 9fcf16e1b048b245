// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

// Reader reads spectra one by one, so memory usage does not grow
// with the file size.
type Reader struct {
	d *xml.Decoder
	n int
}

// NewReader returns a Reader of an mzML or indexed mzML stream.
func NewReader(r io.Reader) *Reader {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	return &Reader{d: d}
}

// Count returns the number of spectra read so far.
func (r *Reader) Count() int { return r.n }

// Next returns the next spectrum, or io.EOF after the last one.
func (r *Reader) Next() (*Spectrum, error) {
	for {
		t, err := r.d.Token()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "parsing mzML")
		}
		start, ok := t.(xml.StartElement)
		if !ok || start.Name.Local != "spectrum" {
			continue
		}

		var x xmlSpectrum
		if err = r.d.DecodeElement(&x, &start); err != nil {
			return nil, errors.Wrap(err, "parsing mzML spectrum")
		}
		r.n++

		s, err := x.spectrum()
		if err != nil {
			return nil, errors.Wrapf(err, "spectrum %s", x.ID)
		}
		return s, nil
	}
}

// ReadAll reads all remaining spectra.
func (r *Reader) ReadAll() ([]*Spectrum, error) {
	var list []*Spectrum
	for {
		s, err := r.Next()
		if err == io.EOF {
			return list, nil
		}
		if err != nil {
			return list, err
		}
		list = append(list, s)
	}
}

var reScan = regexp.MustCompile(`scan=(\d+)`)

// ScanNumber returns the number after "scan=" in a native spectrum ID,
// e.g., "controllerType=0 controllerNumber=1 scan=1234".
func ScanNumber(id string) (int, bool) {
	m := reScan.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (x *xmlSpectrum) spectrum() (*Spectrum, error) {
	s := &Spectrum{
		Index:         x.Index,
		ID:            x.ID,
		MSLevel:       1,
		RetentionTime: -1,
		MzBits:        32,
		IntensityBits: 32,
	}

	var ok bool
	if s.Scan, ok = ScanNumber(x.ID); !ok {
		s.Scan = x.Index + 1
	}

	var err error
	for _, p := range x.CvPar {
		if p.Accession == cvMSLevel {
			if s.MSLevel, err = strconv.Atoi(p.Value); err != nil {
				return nil, errors.Errorf("invalid ms level: %s", p.Value)
			}
		}
	}

	if len(x.Scans) > 0 {
		for _, p := range x.Scans[0].CvPar {
			if p.Accession != cvScanStart {
				continue
			}
			if s.RetentionTime, err = strconv.ParseFloat(p.Value, 64); err != nil {
				return nil, errors.Errorf("invalid scan start time: %s", p.Value)
			}
			switch p.UnitAccession {
			case unitSecond, unitSecondMS:
			case unitMinute, unitMinuteMS, "":
				s.RetentionTime *= 60
			default:
				return nil, errors.Wrap(ErrUnknownUnit, p.UnitAccession)
			}
		}
	}

	if len(x.Precursors) > 0 && len(x.Precursors[0].SelectedIons) > 0 {
		for _, p := range x.Precursors[0].SelectedIons[0].CvPar {
			switch p.Accession {
			case cvSelectedIon:
				if s.PrecursorMz, err = strconv.ParseFloat(p.Value, 64); err != nil {
					return nil, errors.Errorf("invalid selected ion m/z: %s", p.Value)
				}
				s.HasPrecursor = true
			case cvChargeState:
				c, err := strconv.ParseFloat(p.Value, 64)
				if err != nil {
					return nil, errors.Errorf("invalid charge state: %s", p.Value)
				}
				s.Charge = int(c)
			}
		}
	}

	var mzs, intensities []float64
	for i := range x.BinaryDataArrays {
		b := &x.BinaryDataArrays[i]
		kind, bits64, compressed, err := arrayPars(b.CvPar)
		if err != nil {
			return nil, err
		}
		if kind == "" {
			continue
		}
		values, err := decodeArray(b.Binary, bits64, compressed)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s array", kind)
		}
		bits := 32
		if bits64 {
			bits = 64
		}
		if kind == "mz" {
			mzs, s.MzBits = values, bits
		} else {
			intensities, s.IntensityBits = values, bits
		}
	}
	if len(mzs) != len(intensities) {
		return nil, ErrArrayLength
	}
	s.Peaks = make([]Peak, len(mzs))
	for i, mz := range mzs {
		s.Peaks[i] = Peak{Mz: mz, Intensity: intensities[i]}
	}
	return s, nil
}

// arrayPars returns "mz", "intensity" or "" for other arrays.
func arrayPars(params []cvParam) (kind string, bits64 bool, compressed bool, err error) {
	for _, p := range params {
		switch p.Accession {
		case cvZlib:
			compressed = true
		case cvNoCompress, cvFloat32:
		case cvFloat64:
			bits64 = true
		case cvMzArray:
			kind = "mz"
		case cvIntensities:
			kind = "intensity"
		default:
			if strings.HasPrefix(p.Accession, numpressPrefix) || strings.HasPrefix(p.Accession, numpressZlib) {
				return "", false, false, errors.Wrap(ErrUnsupportedCompression, p.Accession)
			}
		}
	}
	return
}

func decodeArray(text string, bits64 bool, compressed bool) ([]float64, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}
	if compressed && len(data) > 0 {
		z, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer z.Close()
		if data, err = io.ReadAll(z); err != nil {
			return nil, err
		}
	}

	var values []float64
	if bits64 {
		values = make([]float64, len(data)/8)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
	} else {
		values = make([]float64, len(data)/4)
		for i := range values {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}
	return values, nil
}
