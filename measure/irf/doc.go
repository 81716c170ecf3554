// Package irf measures the shape of lag-domain impulse response functions
// recovered by cyclic spectroscopy.
//
// A filter of n lags is circular. The analyzer rotates it so the strongest
// lag sits at zero and treats the following n/2+1 lags as the scattering
// tail; whatever lies in the remaining lags is reported as precursor
// energy. Delays are in microseconds: with the bandwidth given in MHz one
// lag spans 1/bandwidth µs.
//
// The decay of the tail is read from the Schroeder backward integral of
// |h|², which turns a noisy exponential tail into a straight line in dB:
//
//   - ScatteringTime: 1/e energy decay time fitted between 0 and -10 dB
//   - CentreDelay: energy centroid of the tail
//   - Definition: share of the tail energy arriving before a delay
//   - Clarity: early-to-late energy ratio at a delay in dB
//
// # Usage
//
//	analyzer := irf.NewAnalyzer(1.5625) // bandwidth in MHz
//	metrics, err := analyzer.Analyze(ht)
//	fmt.Printf("tau = %.2f us\n", metrics.ScatteringTime)
package irf
