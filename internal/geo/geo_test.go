package geo

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, tolerance        float64
	}{
		{"same point", -36.794, 146.977, -36.794, 146.977, 0, 1e-9},
		{"one degree of latitude", 0, 0, 1, 0, 111.19, 0.1},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343.5, 1.0},
		{"wandiligong to bright", -36.794, 146.977, -36.729, 146.968, 7.27, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceKm = %.3f, want %.3f ±%.3f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	a := DistanceKm(40.4168, -3.7038, 41.3874, 2.1686)
	b := DistanceKm(41.3874, 2.1686, 40.4168, -3.7038)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(45, 7); err != nil {
		t.Fatalf("Validate(45, 7) = %v, want nil", err)
	}
	for _, c := range [][2]float64{{math.NaN(), 0}, {0, math.Inf(1)}, {math.Inf(-1), math.NaN()}} {
		err := Validate(c[0], c[1])
		if !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("Validate(%v, %v) = %v, want ErrInvalidCoordinates", c[0], c[1], err)
		}
	}
}

func TestValidateRange(t *testing.T) {
	if err := ValidateRange(-90, 180); err != nil {
		t.Fatalf("ValidateRange(-90, 180) = %v, want nil", err)
	}
	for _, c := range [][2]float64{{91, 0}, {0, -180.5}, {math.NaN(), 0}, {0, math.Inf(-1)}} {
		err := ValidateRange(c[0], c[1])
		if !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("ValidateRange(%v, %v) = %v, want ErrInvalidCoordinates", c[0], c[1], err)
		}
	}
}
