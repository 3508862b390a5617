package envmap

import "fmt"

// Convert resamples the map into another layout. height is the target height
// in pixels; a latlong target is 2*height wide, an angular target is square.
// Target pixels outside the projection's domain are left at zero.
func (e *EnvironmentMap) Convert(layout Layout, height, order int) (*EnvironmentMap, error) {
	width := height
	if layout == LatLong {
		width = 2 * height
	}
	out, err := New(layout, height, width, e.Channels)
	if err != nil {
		return nil, fmt.Errorf("convert to %s: %w", layout, err)
	}

	wc, err := out.WorldCoordinates()
	if err != nil {
		return nil, err
	}
	u, v, err := e.World2Image(wc.Dirs)
	if err != nil {
		return nil, err
	}
	data, err := e.sample(u, v, order, out.Resolution())
	if err != nil {
		return nil, err
	}

	for i, ok := range wc.Valid {
		if ok {
			copy(out.Data[i*e.Channels:(i+1)*e.Channels], data[i*e.Channels:(i+1)*e.Channels])
		}
	}
	return out, nil
}
