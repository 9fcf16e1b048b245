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
	"bufio"
	"io"
	"strconv"
)

// UnknownCharge is written for spectra without a charge state.
const UnknownCharge = 999

// WriteMGF writes one spectrum as an MGF record. fileIndex identifies the
// source file in TITLE and SCANS, e.g., "TITLE=3.1234" and "SCANS=3:1234".
func WriteMGF(w *bufio.Writer, s *Spectrum, fileIndex int) {
	idx := strconv.Itoa(fileIndex)
	scan := strconv.Itoa(s.Scan)

	charge := s.Charge
	if charge <= 0 {
		charge = UnknownCharge
	}

	w.WriteString("BEGIN IONS\n")
	w.WriteString("TITLE=" + idx + "." + scan + "\n")
	w.WriteString("PEPMASS=" + formatFloat(s.PrecursorMz, 64) + "\n")
	w.WriteString("CHARGE=" + strconv.Itoa(charge) + "+\n")
	w.WriteString("SCANS=" + idx + ":" + scan + "\n")
	w.WriteString("RTINSECONDS=" + formatFloat(s.RetentionTime, 64) + "\n")
	w.WriteString("SEQ=UNKNOWN\n")
	for _, p := range s.Peaks {
		w.WriteString(formatFloat(p.Mz, s.MzBits))
		w.WriteByte(' ')
		w.WriteString(formatFloat(p.Intensity, s.IntensityBits))
		w.WriteByte('\n')
	}
	w.WriteString("END IONS\n")
}

// integers keep one decimal place, as Python prints floats.
func formatFloat(v float64, bits int) string {
	s := strconv.FormatFloat(v, 'f', -1, bits)
	for i := 0; i < len(s); i++ {
		if s[i] != '-' && (s[i] < '0' || s[i] > '9') {
			return s
		}
	}
	return s + ".0"
}

// MGFWriter converts spectra of one mzML file into MGF records,
// keeping MS2 spectra with a precursor and a retention time only.
type MGFWriter struct {
	w         *bufio.Writer
	fileIndex int

	Written int
	Skipped int // MS2 spectra without precursor or retention time
}

// NewMGFWriter returns an MGFWriter.
func NewMGFWriter(w io.Writer, fileIndex int) *MGFWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &MGFWriter{w: bw, fileIndex: fileIndex}
}

// Write writes a spectrum if it is an MS2 one with a precursor.
func (m *MGFWriter) Write(s *Spectrum) {
	if s.MSLevel != 2 {
		return
	}
	if !s.HasPrecursor || s.RetentionTime < 0 {
		m.Skipped++
		return
	}
	WriteMGF(m.w, s, m.fileIndex)
	m.Written++
}

// Convert writes all qualified spectra of r.
func (m *MGFWriter) Convert(r *Reader) error {
	for {
		s, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		m.Write(s)
	}
	return m.w.Flush()
}

// Flush flushes buffered records.
func (m *MGFWriter) Flush() error {
	return m.w.Flush()
}
