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
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func encodeArray(values []float64, bits64 bool, compress bool) string {
	var buf bytes.Buffer
	for _, v := range values {
		if bits64 {
			binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
		} else {
			binary.Write(&buf, binary.LittleEndian, math.Float32bits(float32(v)))
		}
	}
	data := buf.Bytes()
	if compress {
		var zbuf bytes.Buffer
		z := zlib.NewWriter(&zbuf)
		z.Write(data)
		z.Close()
		data = zbuf.Bytes()
	}
	return base64.StdEncoding.EncodeToString(data)
}

func binaryArray(kind string, values []float64, bits64 bool, compress bool) string {
	terms := []string{kind}
	if bits64 {
		terms = append(terms, cvFloat64)
	} else {
		terms = append(terms, cvFloat32)
	}
	if compress {
		terms = append(terms, cvZlib)
	} else {
		terms = append(terms, cvNoCompress)
	}
	var b strings.Builder
	b.WriteString("<binaryDataArray>")
	for _, t := range terms {
		fmt.Fprintf(&b, `<cvParam cvRef="MS" accession="%s" name=""/>`, t)
	}
	fmt.Fprintf(&b, "<binary>%s</binary></binaryDataArray>", encodeArray(values, bits64, compress))
	return b.String()
}

func spectrumXML(index int, id string, msLevel int, rt string, precursor string, arrays ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<spectrum index="%d" id="%s" defaultArrayLength="0">`, index, id)
	fmt.Fprintf(&b, `<cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="%d"/>`, msLevel)
	if rt != "" {
		fmt.Fprintf(&b, `<scanList count="1"><scan>%s</scan></scanList>`, rt)
	}
	if precursor != "" {
		fmt.Fprintf(&b, `<precursorList count="1"><precursor><selectedIonList count="1"><selectedIon>%s</selectedIon></selectedIonList></precursor></precursorList>`, precursor)
	}
	fmt.Fprintf(&b, `<binaryDataArrayList count="%d">%s</binaryDataArrayList></spectrum>`, len(arrays), strings.Join(arrays, ""))
	return b.String()
}

func testMzML() string {
	spectra := []string{
		spectrumXML(0, "controllerType=0 controllerNumber=1 scan=9", 1,
			`<cvParam accession="MS:1000016" value="1.4" unitAccession="UO:0000031"/>`, "",
			binaryArray(cvMzArray, []float64{50}, true, false),
			binaryArray(cvIntensities, []float64{1}, false, false)),
		spectrumXML(1, "controllerType=0 controllerNumber=1 scan=10", 2,
			`<cvParam accession="MS:1000016" value="1.5" unitAccession="UO:0000031"/>`,
			`<cvParam accession="MS:1000744" value="445.12"/><cvParam accession="MS:1000041" value="2"/>`,
			binaryArray(cvMzArray, []float64{100.5, 200.25}, true, true),
			binaryArray(cvIntensities, []float64{10, 20.5}, false, true)),
		spectrumXML(2, "controllerType=0 controllerNumber=1 scan=20", 2,
			`<cvParam accession="MS:1000016" value="12.5" unitAccession="UO:0000010"/>`,
			`<cvParam accession="MS:1000744" value="512.3"/>`,
			binaryArray(cvMzArray, []float64{300.125}, false, false),
			binaryArray(cvIntensities, []float64{1000}, true, false)),
		spectrumXML(3, "index=3", 2,
			`<cvParam accession="MS:1000016" value="12.6" unitAccession="UO:0000010"/>`, "",
			binaryArray(cvMzArray, nil, false, false),
			binaryArray(cvIntensities, nil, false, false)),
	}
	return `<?xml version="1.0" encoding="ISO-8859-1"?>
<indexedmzML xmlns="http://psi.hupo.org/ms/mzml">
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">
<run id="test"><spectrumList count="4">` + strings.Join(spectra, "\n") + `</spectrumList></run>
</mzML>
<indexList count="0"/>
</indexedmzML>
`
}

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader(testMzML()))
	spectra, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if r.Count() != 4 || len(spectra) != 4 {
		t.Fatalf("%d spectra, should be 4", len(spectra))
	}

	want := &Spectrum{
		Index:         1,
		ID:            "controllerType=0 controllerNumber=1 scan=10",
		Scan:          10,
		MSLevel:       2,
		RetentionTime: 90,
		HasPrecursor:  true,
		PrecursorMz:   445.12,
		Charge:        2,
		Peaks:         []Peak{{100.5, 10}, {200.25, 20.5}},
		MzBits:        64,
		IntensityBits: 32,
	}
	if diff := cmp.Diff(want, spectra[1]); diff != "" {
		t.Errorf("spectrum mismatch (-want +got):\n%s", diff)
	}

	if spectra[0].MSLevel != 1 || spectra[0].HasPrecursor {
		t.Errorf("unexpected MS1 spectrum: %+v", spectra[0])
	}
	if spectra[2].RetentionTime != 12.5 || spectra[2].Charge != 0 {
		t.Errorf("unexpected spectrum: %+v", spectra[2])
	}
	if spectra[3].Scan != 4 || len(spectra[3].Peaks) != 0 {
		t.Errorf("unexpected spectrum: %+v", spectra[3])
	}

	if _, err = r.Next(); err != io.EOF {
		t.Errorf("error %v, should be io.EOF", err)
	}
}

func TestMGFWriter(t *testing.T) {
	var buf bytes.Buffer
	m := NewMGFWriter(&buf, 3)
	if err := m.Convert(NewReader(strings.NewReader(testMzML()))); err != nil {
		t.Fatalf("Convert: %s", err)
	}

	want := `BEGIN IONS
TITLE=3.10
PEPMASS=445.12
CHARGE=2+
SCANS=3:10
RTINSECONDS=90.0
SEQ=UNKNOWN
100.5 10.0
200.25 20.5
END IONS
BEGIN IONS
TITLE=3.20
PEPMASS=512.3
CHARGE=999+
SCANS=3:20
RTINSECONDS=12.5
SEQ=UNKNOWN
300.125 1000.0
END IONS
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("MGF mismatch (-want +got):\n%s", diff)
	}
	if m.Written != 2 || m.Skipped != 1 {
		t.Errorf("written: %d, skipped: %d", m.Written, m.Skipped)
	}
}

func TestReaderErrors(t *testing.T) {
	wrap := func(s string) string {
		return `<mzML xmlns="http://psi.hupo.org/ms/mzml"><run><spectrumList>` + s + `</spectrumList></run></mzML>`
	}

	numpress := `<binaryDataArray><cvParam accession="MS:1000514"/><cvParam accession="MS:1002312"/><binary></binary></binaryDataArray>`
	_, err := NewReader(strings.NewReader(wrap(spectrumXML(0, "scan=1", 2, "", "", numpress)))).Next()
	if errors.Cause(err) != ErrUnsupportedCompression {
		t.Errorf("error %v, should be ErrUnsupportedCompression", err)
	}

	unequal := spectrumXML(0, "scan=1", 2, "", "",
		binaryArray(cvMzArray, []float64{1, 2}, true, false),
		binaryArray(cvIntensities, []float64{1}, true, false))
	_, err = NewReader(strings.NewReader(wrap(unequal))).Next()
	if errors.Cause(err) != ErrArrayLength {
		t.Errorf("error %v, should be ErrArrayLength", err)
	}

	hours := spectrumXML(0, "scan=1", 2, `<cvParam accession="MS:1000016" value="1" unitAccession="UO:0000032"/>`, "")
	_, err = NewReader(strings.NewReader(wrap(hours))).Next()
	if errors.Cause(err) != ErrUnknownUnit {
		t.Errorf("error %v, should be ErrUnknownUnit", err)
	}

	_, err = NewReader(strings.NewReader(wrap(`<spectrum index="0" id="scan=1">`))).Next()
	if err == nil {
		t.Errorf("error expected for truncated XML")
	}
}

func TestScanNumber(t *testing.T) {
	tests := []struct {
		id   string
		scan int
		ok   bool
	}{
		{"controllerType=0 controllerNumber=1 scan=1234", 1234, true},
		{"scan=7", 7, true},
		{"index=3", 0, false},
		{"scan=", 0, false},
	}
	for _, test := range tests {
		scan, ok := ScanNumber(test.id)
		if scan != test.scan || ok != test.ok {
			t.Errorf("ScanNumber(%q) = (%d, %v), should be (%d, %v)", test.id, scan, ok, test.scan, test.ok)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	for v, want := range map[float64]string{1: "1.0", -2: "-2.0", 0.5: "0.5", 1e21: "1000000000000000000000.0"} {
		if got := formatFloat(v, 64); got != want {
			t.Errorf("formatFloat(%v) = %s, should be %s", v, got, want)
		}
	}
	if got := formatFloat(float64(float32(0.1)), 32); got != "0.1" {
		t.Errorf("formatFloat(float32 0.1) = %s, should be 0.1", got)
	}
}
