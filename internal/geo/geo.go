package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/OCAP2/heatmap/pkg/core"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Vec3FromString parses an engine position string "x,y,z" (y up) into a
// core.Vec3. A missing height component is treated as 0.
func Vec3FromString(coords string) (core.Vec3, error) {
	coords = strings.Trim(strings.TrimSpace(coords), "[]")
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) < 2 || len(coordsSplit) > 3 {
		return core.Vec3{}, ErrInvalidCoordinates
	}

	values := make([]float64, len(coordsSplit))
	for i, s := range coordsSplit {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return core.Vec3{}, ErrInvalidCoordinates
		}
		values[i] = v
	}

	// "x,z" pairs carry no height
	if len(values) == 2 {
		return core.Vec3{X: values[0], Z: values[1]}, nil
	}
	return core.Vec3{X: values[0], Y: values[1], Z: values[2]}, nil
}
