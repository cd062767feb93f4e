package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CalcType selects between predicting the target directly and predicting
// the residual against a prior map. It is carried through for forward
// compatibility; no engine component branches on it yet.
type CalcType string

const (
	CalcDirect   CalcType = "direct"
	CalcResidual CalcType = "residual"
	CalcUnknown  CalcType = "unknown"
)

// Layer is the high-resolution target quantity being predicted.
type Layer string

const (
	LayerLandability   Layer = "landability"
	LayerMeasurability Layer = "measurability"
)

type Resolution string

const (
	ResolutionUltraHigh Resolution = "ultrahigh"
	ResolutionHigh      Resolution = "high"
	ResolutionStandard  Resolution = "standard"
	ResolutionLow       Resolution = "low"
	ResolutionUnknown   Resolution = "unknown"
)

var (
	ErrTooShort           = errors.New("job identifier is shorter than 8 characters")
	ErrUnknownLayer       = errors.New("unrecognized layer code")
	ErrInvalidEpochDigit  = errors.New("epoch digit must be a hex digit in [1,F]")
	ErrInvalidSampleDigit = errors.New("sample digit must be a decimal digit >= 1")
)

// Descriptor is the decoded form of an 8-character job identifier. It is
// immutable once decoded; every downstream component receives it by value.
type Descriptor struct {
	CalcType   CalcType
	Layer      Layer
	Resolution Resolution

	// LatentDim is the width of the input latent vectors. The expected
	// range is 16-64 but the codec does not enforce it; the dataset loader
	// validates the actual table width against this value.
	LatentDim int

	Epochs    int
	MCSamples int
}

const identifierLen = 8

// Decode parses an 8-character job identifier of the form
//
//	[type:1][layer:2][resolution:1][latent_dim:2][epoch_hex:1][sample_digit:1]
//
// Only the first 8 characters are consumed; extra characters are ignored.
func Decode(identifier string) (Descriptor, error) {
	if len(identifier) < identifierLen {
		return Descriptor{}, fmt.Errorf("%w: got %q (%d characters)", ErrTooShort, identifier, len(identifier))
	}

	var d Descriptor

	switch identifier[0] {
	case 'd':
		d.CalcType = CalcDirect
	case 'r':
		d.CalcType = CalcResidual
	default:
		d.CalcType = CalcUnknown
	}

	switch identifier[1:3] {
	case "M3":
		d.Layer = LayerLandability
	case "M4":
		d.Layer = LayerMeasurability
	default:
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownLayer, identifier[1:3])
	}

	switch identifier[3] {
	case 'u':
		d.Resolution = ResolutionUltraHigh
	case 'h':
		d.Resolution = ResolutionHigh
	case 's':
		d.Resolution = ResolutionStandard
	case 'l':
		d.Resolution = ResolutionLow
	default:
		d.Resolution = ResolutionUnknown
	}

	latentDim, err := strconv.Atoi(identifier[4:6])
	if err != nil {
		return Descriptor{}, fmt.Errorf("invalid latent dimension field %q: %w", identifier[4:6], err)
	}
	d.LatentDim = latentDim

	epochDigit, err := strconv.ParseInt(strings.ToUpper(identifier[6:7]), 16, 64)
	if err != nil || epochDigit < 1 {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidEpochDigit, identifier[6:7])
	}
	d.Epochs = int(epochDigit) * 100

	sampleDigit := int(identifier[7] - '0')
	if sampleDigit < 1 || sampleDigit > 9 {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidSampleDigit, identifier[7:8])
	}
	d.MCSamples = sampleDigit * 5

	return d, nil
}

// Encode renders the descriptor back into a canonical identifier. Unknown
// calc type and resolution render as 'd' and 's' respectively, so
// Encode(Decode(id)) reproduces the semantic configuration rather than the
// literal string for fields no component consumes.
func (d Descriptor) Encode() string {
	var b strings.Builder

	switch d.CalcType {
	case CalcResidual:
		b.WriteByte('r')
	default:
		b.WriteByte('d')
	}

	switch d.Layer {
	case LayerMeasurability:
		b.WriteString("M4")
	default:
		b.WriteString("M3")
	}

	switch d.Resolution {
	case ResolutionUltraHigh:
		b.WriteByte('u')
	case ResolutionHigh:
		b.WriteByte('h')
	case ResolutionLow:
		b.WriteByte('l')
	default:
		b.WriteByte('s')
	}

	fmt.Fprintf(&b, "%02d", d.LatentDim)
	fmt.Fprintf(&b, "%X", d.Epochs/100)
	fmt.Fprintf(&b, "%d", d.MCSamples/5)

	return b.String()
}
