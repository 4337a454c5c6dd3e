// Package resampler converts mono float32 audio between sample rates.
//
// Two qualities are available:
//   - Linear: two-point interpolation, allocation-light and safe to call from
//     a realtime audio callback
//   - High: polyphase resampling backed by go-audio-resampling
//
// Example usage:
//
//	r, err := resampler.New(resampler.Linear, 48000, 16000)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := r.Process(samples)
package resampler
