package audio

// DetectSilence reports whether the samples fall below the RMS energy
// threshold. A threshold <= 0 disables gating and always reports speech.
func DetectSilence(samples []int16, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	return CalculateRMS(samples) < threshold
}

// IsSilentChunk decodes a WAV chunk and applies the silence gate. Payloads
// that fail to decode are never treated as silent; the provider decides.
func IsSilentChunk(chunk []byte, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	w, err := Decode(chunk)
	if err != nil {
		return false
	}
	return DetectSilence(w.Samples(), threshold)
}
