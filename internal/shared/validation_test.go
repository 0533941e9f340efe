package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleLine struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gte=0"`
}

type sampleDoc struct {
	Name  string       `json:"name" validate:"required"`
	Lines []sampleLine `json:"lines" validate:"required,min=1,dive"`
}

func TestValidateStructUsesJSONPaths(t *testing.T) {
	v := NewValidator()
	err := ValidateStruct(v, sampleDoc{Lines: []sampleLine{{SKU: "A"}, {Qty: -1}}}, "")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "required", verr.Fields["name"])
	require.Equal(t, "required", verr.Fields["lines[1].sku"])
	require.Equal(t, "must be at least 0", verr.Fields["lines[1].qty"])

	err = ValidateStruct(v, sampleLine{}, "lines[3]")
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "lines[3].sku")

	require.NoError(t, ValidateStruct(v, sampleDoc{Name: "x", Lines: []sampleLine{{SKU: "A"}}}, ""))
}
