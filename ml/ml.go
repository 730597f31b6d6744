// Package ml provides the tensor buffers exchanged between the preprocessor, the inference
// backend and the output decoder.
package ml

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

// ConvertToFloat32Slice converts the backing data of a tensor into a []float32. A []float32 input
// is returned as is, not copied.
func ConvertToFloat32Slice(slice interface{}) ([]float32, error) {
	switch v := slice.(type) {
	case []float32:
		return v, nil
	case []float64:
		return convertNumberSlice[float64, float32](v), nil
	case []int:
		return convertNumberSlice[int, float32](v), nil
	case []int8:
		return convertNumberSlice[int8, float32](v), nil
	case []int16:
		return convertNumberSlice[int16, float32](v), nil
	case []int32:
		return convertNumberSlice[int32, float32](v), nil
	case []int64:
		return convertNumberSlice[int64, float32](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float32](v), nil
	case []uint16:
		return convertNumberSlice[uint16, float32](v), nil
	case []uint32:
		return convertNumberSlice[uint32, float32](v), nil
	case []uint64:
		return convertNumberSlice[uint64, float32](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float32", slice)
	}
}

// ShapeSize returns the number of elements a tensor of the given shape holds.
func ShapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	return size
}
