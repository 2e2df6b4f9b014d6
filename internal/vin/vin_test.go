package vin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const referenceVIN = "1HGBH41JXMN109186"

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		passed     bool
		normalized string
		errCount   int
	}{
		{name: "reference vin", input: referenceVIN, passed: true, normalized: referenceVIN},
		{name: "lowercase with separators", input: "1hgbh41jxmn-109 186", passed: true, normalized: referenceVIN},
		{name: "wrong check digit", input: "1HGBH41J0MN109186", passed: false, normalized: "1HGBH41J0MN109186"},
		{name: "too short", input: "1HGBH41JXMN10918", normalized: "1HGBH41JXMN10918", errCount: 1},
		{name: "illegal letters stripped", input: "1HGBH41JXMNO09186", normalized: "1HGBH41JXMN09186", errCount: 1},
		{name: "empty", input: "", normalized: "", errCount: 1},
		{name: "Z weighted as 9", input: "1ZVBP8AM9D5268751", passed: true, normalized: "1ZVBP8AM9D5268751"},
		{name: "Y weighted as 8", input: "5YJ3E1EA6KF317548", passed: true, normalized: "5YJ3E1EA6KF317548"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Validate(tt.input)
			assert.Equal(t, tt.passed, got.Passed)
			assert.Equal(t, tt.normalized, got.Normalized)
			assert.Len(t, got.Errors, tt.errCount)
		})
	}
}

func TestValidateLengthErrorNamesLength(t *testing.T) {
	got := Validate("ABC")
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0], "got 3")
	assert.Empty(t, got.Expected, "no checksum is computed for malformed input")
}

func TestValidateIsDeterministic(t *testing.T) {
	inputs := []string{referenceVIN, "11111111111111111", "JH4KA7561PC008269", "ZZZZZZZZZZZZZZZZZ"}
	for _, in := range inputs {
		assert.Equal(t, Validate(in), Validate(in), in)
	}
}

func TestSingleCharacterMutationFails(t *testing.T) {
	require.True(t, Validate(referenceVIN).Passed)

	for i := 0; i < Length; i++ {
		buf := []byte(referenceVIN)
		value, ok := transliterate(buf[i])
		require.True(t, ok)
		buf[i] = byte('0' + (value+1)%10)
		if i == CheckDigitIndex {
			buf[i] = '0'
		}

		mutated := string(buf)
		assert.False(t, Validate(mutated).Passed, "mutation at %d: %s", i, mutated)
	}
}

func TestExpectedCheckDigit(t *testing.T) {
	digit, err := ExpectedCheckDigit(referenceVIN)
	require.NoError(t, err)
	assert.Equal(t, byte('X'), digit)

	digit, err = ExpectedCheckDigit("1ZVBP8AM0D5268751")
	require.NoError(t, err)
	assert.Equal(t, byte('9'), digit)

	digit, err = ExpectedCheckDigit("5YJ3E1EA0KF317548")
	require.NoError(t, err)
	assert.Equal(t, byte('6'), digit)

	_, err = ExpectedCheckDigit("1HGBH41JXMNO09186")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestSuggestCorrections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "letter O for zero", input: "1HGBH41JXMN1O9186", want: []string{referenceVIN}},
		{name: "letter I for one", input: "IHGBH41JXMN109186", want: []string{referenceVIN}},
		{name: "B read for 8", input: "1HGBH41JXMN1091B6", want: []string{referenceVIN}},
		{name: "I read for L", input: "1FTIR4FE5BPA12345", want: []string{"1FTLR4FE5BPA12345"}},
		{
			name:  "several fixes left to right",
			input: "5G1ZT5ST6GF123456",
			want: []string{
				"5G1ZTSST6GF123456",
				"5G1ZT5ST66F123456",
				"5G1ZT5ST6GF1234S6",
				"5G1ZT5ST6GF12345G",
			},
		},
		{name: "no confusable fixes it", input: "1HGBH41JXMN109187", want: nil},
		{name: "wrong length", input: "1HGBH41JXMN1O918", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SuggestCorrections(tt.input))
		})
	}
}

func TestSuggestionsAlwaysValidate(t *testing.T) {
	inputs := []string{
		"1HGBH41JXMN1O9186",
		"1HGBH41JXMN1091B6",
		"JH4KA7S61PC008269",
		"1G1ZT5ST6GF123456",
		"5YJ3E1EA7KF3Z7B48",
	}
	for _, in := range inputs {
		for _, s := range SuggestCorrections(in) {
			assert.True(t, Validate(s).Passed, "%s suggested %s", in, s)
			assert.Empty(t, SuggestCorrections(s), "a valid suggestion needs no further fixing")
		}
	}
}

func TestReason(t *testing.T) {
	ctx := context.Background()

	t.Run("valid vin with decoder", func(t *testing.T) {
		calls := 0
		decoder := DecoderFunc(func(_ context.Context, v string) (*ManufacturingInfo, error) {
			calls++
			assert.Equal(t, referenceVIN, v)
			return &ManufacturingInfo{Manufacturer: "HONDA", Country: "UNITED STATES (USA)"}, nil
		})

		r := Reason(ctx, referenceVIN, decoder)
		assert.Equal(t, 1, calls)
		assert.True(t, r.Validation.Passed)
		assert.Empty(t, r.Suggestions)
		assert.Equal(t, Segments{WMI: "1HG", VDS: "BH41JX", VIS: "MN109186"}, r.Segments)
		assert.Equal(t, "M", r.YearDigit)
		assert.Equal(t, "N", r.PlantDigit)
		assert.Equal(t, []int{1991, 2021}, r.ModelYears)
		assert.Equal(t, "HONDA", r.Intel.Manufacturer)
		assert.Empty(t, r.Intel.Plant)
	})

	t.Run("invalid vin gets suggestions", func(t *testing.T) {
		r := Reason(ctx, "1HGBH41JXMN1O9186", nil)
		assert.False(t, r.Validation.Passed)
		assert.Equal(t, []string{referenceVIN}, r.Suggestions)
		assert.True(t, r.Intel.IsZero())
	})

	t.Run("decoder failure leaves intel empty", func(t *testing.T) {
		decoder := DecoderFunc(func(context.Context, string) (*ManufacturingInfo, error) {
			return nil, errors.New("service unavailable")
		})
		r := Reason(ctx, referenceVIN, decoder)
		assert.True(t, r.Intel.IsZero())
		assert.Equal(t, "service unavailable", r.LookupError)
	})

	t.Run("short vin still segments", func(t *testing.T) {
		r := Reason(ctx, "1HGBH", nil)
		assert.Equal(t, Segments{WMI: "1HG", VDS: "BH"}, r.Segments)
		assert.Empty(t, r.YearDigit)
		assert.Empty(t, r.PlantDigit)
	})
}

func TestModelYears(t *testing.T) {
	assert.Equal(t, []int{2000, 2030}, ModelYears('Y'))
	assert.Equal(t, []int{2001, 2031}, ModelYears('1'))
	assert.Nil(t, ModelYears('0'))
	assert.Nil(t, ModelYears('U'))
}
