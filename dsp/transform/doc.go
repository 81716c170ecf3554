// Package transform implements the normalized Fourier transform pairs used
// by cyclic spectroscopy.
//
// Four conjugate pairs are provided:
//
//   - PS2CS / CS2PS: periodic spectrum (channel × phase) to cyclic spectrum
//     (channel × harmonic), a real FFT along the phase axis of every channel.
//   - CS2CC / CC2CS: cyclic spectrum to cyclic correlation (lag × harmonic),
//     a complex FFT along the channel axis of every harmonic.
//   - Time2Freq / Freq2Time: time-domain (lag) filter to frequency-domain filter.
//   - Phase2Harm / Harm2Phase: phase profile to harmonic profile.
//
// # Normalization
//
// Every inverse transform is an unnormalized sum. Forward transforms divide
// by a fixed length:
//
//	Time2Freq, CC2CS        ÷ n (transform length)
//	PS2CS, Phase2Harm       ÷ nharm = nbin/2+1 (Legacy) or ÷ nbin (Symmetric)
//
// The Legacy convention divides the real transforms by the output length,
// so CS2PS(PS2CS(P)) = (nbin/nharm)·P rather than P. It is the default
// because published filters and profiles were computed with it. The
// Symmetric convention divides by the input length and round-trips
// exactly. [Convention.RoundTripScale] reports the factor.
//
// Complex transforms run on algo-fft plans, real transforms on gonum
// fourier. Row and column batches are spread over a bounded worker pool;
// every task writes a disjoint set of rows or columns.
package transform
