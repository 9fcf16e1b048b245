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

// Package mzml streams MS/MS spectra out of mzML files and writes them in
// the Mascot generic format (MGF).
package mzml

import (
	"github.com/pkg/errors"
)

// Peak is one centroid of a spectrum.
type Peak struct {
	Mz        float64
	Intensity float64
}

// Spectrum is the part of an mzML spectrum needed for MGF output.
type Spectrum struct {
	Index   int
	ID      string
	Scan    int
	MSLevel int

	// RetentionTime is the scan start time in seconds, -1 if absent.
	RetentionTime float64

	// HasPrecursor tells whether a selected ion is given.
	HasPrecursor bool
	PrecursorMz  float64
	Charge       int // 0 if absent

	Peaks []Peak

	// MzBits and IntensityBits are the widths of the encoded floats,
	// 32 or 64, used to print values without spurious digits.
	MzBits        int
	IntensityBits int
}

var (
	// ErrUnsupportedCompression means a compression other than zlib.
	ErrUnsupportedCompression = errors.New("mzml: unsupported binary compression")
	// ErrArrayLength means the m/z and intensity arrays differ in length.
	ErrArrayLength = errors.New("mzml: lengths of m/z and intensity arrays differ")
	// ErrUnknownUnit means a retention time unit other than seconds and minutes.
	ErrUnknownUnit = errors.New("mzml: unknown unit of scan start time")
)

// controlled vocabulary terms used here
const (
	cvZlib         = "MS:1000574"
	cvNoCompress   = "MS:1000576"
	cvMzArray      = "MS:1000514"
	cvIntensities  = "MS:1000515"
	cvFloat32      = "MS:1000521"
	cvFloat64      = "MS:1000523"
	cvMSLevel      = "MS:1000511"
	cvScanStart    = "MS:1000016"
	cvSelectedIon  = "MS:1000744"
	cvChargeState  = "MS:1000041"
	unitMinute     = "UO:0000031"
	unitMinuteMS   = "MS:1000038"
	unitSecond     = "UO:0000010"
	unitSecondMS   = "MS:1000039"
	numpressPrefix = "MS:10023" // MS:1002312 - MS:1002314
	numpressZlib   = "MS:10027" // MS:1002746 - MS:1002748
)

type cvParam struct {
	Accession     string `xml:"accession,attr"`
	Value         string `xml:"value,attr"`
	UnitAccession string `xml:"unitAccession,attr"`
}

type xmlSpectrum struct {
	Index              int       `xml:"index,attr"`
	ID                 string    `xml:"id,attr"`
	DefaultArrayLength int       `xml:"defaultArrayLength,attr"`
	CvPar              []cvParam `xml:"cvParam"`
	Scans              []struct {
		CvPar []cvParam `xml:"cvParam"`
	} `xml:"scanList>scan"`
	Precursors []struct {
		SelectedIons []struct {
			CvPar []cvParam `xml:"cvParam"`
		} `xml:"selectedIonList>selectedIon"`
	} `xml:"precursorList>precursor"`
	BinaryDataArrays []binaryDataArray `xml:"binaryDataArrayList>binaryDataArray"`
}

type binaryDataArray struct {
	CvPar  []cvParam `xml:"cvParam"`
	Binary string    `xml:"binary"`
}
