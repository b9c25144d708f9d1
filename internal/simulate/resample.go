package simulate

// resample converts audio from one sample rate to another with cubic
// interpolation. Inputs shorter than four samples are repeated nearest-neighbour.
func resample(audio []float32, originalRate, targetRate int) []float32 {
	if originalRate == targetRate || originalRate <= 0 || len(audio) == 0 {
		return audio
	}

	ratio := float64(targetRate) / float64(originalRate)
	newLength := max(int(float64(len(audio))*ratio), 1)
	out := make([]float32, newLength)

	if len(audio) < 4 {
		for i := range out {
			out[i] = audio[min(int(float64(i)/ratio), len(audio)-1)]
		}
		return out
	}

	lastIndex := len(audio) - 3
	for i := range out {
		origPos := float64(i) / ratio
		index := min(max(int(origPos), 1), lastIndex)
		frac := float32(origPos) - float32(index)

		y0, y1, y2, y3 := audio[index-1], audio[index], audio[index+1], audio[index+2]
		mu2 := frac * frac
		a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
		a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
		a2 := -0.5*y0 + 0.5*y2
		a3 := y1

		out[i] = a0*frac*mu2 + a1*mu2 + a2*frac + a3
	}
	return out
}
