package voice

// resampler is a streaming linear-interpolation sample rate converter. It
// carries its phase and the last input sample across calls so consecutive
// buffers join without discontinuities.
type resampler struct {
	step float64 // input samples advanced per output sample
	pos  float64 // read position relative to the current buffer
	prev float32
}

func newResampler(inRate, outRate int) *resampler {
	return &resampler{step: float64(inRate) / float64(outRate)}
}

func (r *resampler) passthrough() bool {
	return r.step == 1
}

// process appends the converted samples of in to out.
func (r *resampler) process(in []float32, out []float32) []float32 {
	if r.passthrough() {
		return append(out, in...)
	}
	n := len(in)
	if n == 0 {
		return out
	}
	at := func(i int) float32 {
		if i < 0 {
			return r.prev
		}
		return in[i]
	}
	for r.pos < float64(n-1) {
		i := int(r.pos)
		if r.pos < 0 {
			i = -1
		}
		frac := float32(r.pos - float64(i))
		a, b := at(i), at(i+1)
		out = append(out, a+(b-a)*frac)
		r.pos += r.step
	}
	r.pos -= float64(n)
	r.prev = in[n-1]
	return out
}
