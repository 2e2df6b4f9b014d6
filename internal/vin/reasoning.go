package vin

import (
	"context"
	"strings"
)

// ManufacturingInfo is what an external decode service knows about a VIN.
// Unknown fields stay empty.
type ManufacturingInfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Country      string `json:"country,omitempty"`
	Plant        string `json:"plant,omitempty"`
	ModelYear    string `json:"model_year,omitempty"`
}

func (m ManufacturingInfo) IsZero() bool {
	return m == ManufacturingInfo{}
}

type Decoder interface {
	Decode(ctx context.Context, vin string) (*ManufacturingInfo, error)
}

type DecoderFunc func(ctx context.Context, vin string) (*ManufacturingInfo, error)

func (f DecoderFunc) Decode(ctx context.Context, vin string) (*ManufacturingInfo, error) {
	return f(ctx, vin)
}

type Segments struct {
	WMI string `json:"wmi"`
	VDS string `json:"vds"`
	VIS string `json:"vis"`
}

type Reasoning struct {
	Input       string            `json:"input"`
	Validation  Validation        `json:"validation"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Segments    Segments          `json:"segments"`
	YearDigit   string            `json:"year_digit,omitempty"`
	PlantDigit  string            `json:"plant_digit,omitempty"`
	ModelYears  []int             `json:"model_years,omitempty"`
	Intel       ManufacturingInfo `json:"manufacturing_intel"`
	LookupError string            `json:"lookup_error,omitempty"`
}

// Reason composes validation, correction suggestions, segmentation and the
// decoder's manufacturing data into one verdict. The decoder is consulted once,
// with no retries; its failure leaves Intel empty.
func Reason(ctx context.Context, raw string, decoder Decoder) Reasoning {
	validation := Validate(raw)
	r := Reasoning{
		Input:      raw,
		Validation: validation,
		Segments:   Segment(validation.Normalized),
	}

	if !validation.Passed {
		r.Suggestions = SuggestCorrections(raw)
	}

	n := validation.Normalized
	if len(n) > 9 {
		r.YearDigit = n[9:10]
		r.ModelYears = ModelYears(n[9])
	}
	if len(n) > 10 {
		r.PlantDigit = n[10:11]
	}

	if decoder != nil {
		info, err := decoder.Decode(ctx, n)
		switch {
		case err != nil:
			r.LookupError = err.Error()
		case info != nil:
			r.Intel = *info
		}
	}
	return r
}

// Segment splits a normalized VIN into WMI, VDS and VIS using whatever
// characters are present. Input beyond 17 characters is ignored.
func Segment(n string) Segments {
	if len(n) > Length {
		n = n[:Length]
	}
	return Segments{
		WMI: slice(n, 0, 3),
		VDS: slice(n, 3, 9),
		VIS: slice(n, 9, Length),
	}
}

func slice(s string, from, to int) string {
	if from >= len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

const yearCodes = "ABCDEFGHJKLMNPRSTVWXY123456789"

// ModelYears returns the model years encoded by the position 10 character.
// The code repeats every 30 years, so two candidates come back.
func ModelYears(code byte) []int {
	i := strings.IndexByte(yearCodes, code)
	if i < 0 {
		return nil
	}
	return []int{1980 + i, 2010 + i}
}
