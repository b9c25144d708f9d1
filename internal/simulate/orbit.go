package simulate

import (
	"math"
	"time"

	"github.com/spatialpump/spatialpump/internal/spatial"
)

// Orbit moves a source on a horizontal circle around the listener.
type Orbit struct {
	Radius float64
	Height float64
	// Period is one revolution; zero keeps the source still at angle zero.
	Period time.Duration
	// Phase offsets the starting angle in radians.
	Phase float64
}

// At returns the position after elapsed time. X is to the right and Z in front.
func (o Orbit) At(elapsed time.Duration) spatial.Position {
	angle := o.Phase
	if o.Period > 0 {
		angle += 2 * math.Pi * float64(elapsed%o.Period) / float64(o.Period)
	}
	return spatial.Position{
		X: float32(o.Radius * math.Sin(angle)),
		Y: float32(o.Height),
		Z: float32(o.Radius * math.Cos(angle)),
	}
}

const toneAmplitude = 0.25

// Tone returns one second of a sine at hz. An integral hz loops without a click.
func Tone(hz float64, sampleRate int) []float32 {
	out := make([]float32, sampleRate)
	for i := range out {
		out[i] = float32(toneAmplitude * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate)))
	}
	return out
}
