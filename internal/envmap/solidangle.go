package envmap

import "math"

// SolidAngles returns the solid angle, in steradians, covered by each pixel.
// Pixels outside the projection's domain get 0. The values sum to roughly 4π.
func (e *EnvironmentMap) SolidAngles() ([]float64, error) {
	res := e.Resolution()
	out := make([]float64, res.Pixels())
	u, v := ImageCoordinates(res)

	switch e.Layout {
	case LatLong:
		dTheta := 2 * math.Pi / float64(res.Width)
		dPhi := math.Pi / float64(res.Height)
		for i := range out {
			out[i] = math.Sin(math.Pi*v[i]) * dTheta * dPhi
		}
	case Angular:
		// dΩ = π sin(πr)/r dA on the unit disc, with r → 0 giving π².
		dA := 4 / float64(res.Pixels())
		for i := range out {
			r := math.Hypot(2*u[i]-1, 2*v[i]-1)
			switch {
			case r > 1:
				continue
			case r < 1e-9:
				out[i] = math.Pi * math.Pi * dA
			default:
				out[i] = math.Pi * math.Sin(math.Pi*r) / r * dA
			}
		}
	default:
		return nil, ErrUnknownLayout
	}
	return out, nil
}
