// Package analysis inspects recorded control signals.
//
//   - [PowerSpectrum]: one-sided amplitude spectrum of a sampled signal
//   - [Spectrum.Dominant]: strongest non-constant component
//   - [Spectrum.HighFrequencyRatio]: share of amplitude above a cutoff
//   - [PhasePortrait]: joint position against velocity
//
// # Chatter
//
// Torque that oscillates near the Nyquist rate of the control loop points at
// gains too stiff for the control period:
//
//	s, _ := analysis.PowerSpectrum(tau, controlFreq)
//	if s.HighFrequencyRatio(controlFreq/4) > 0.5 {
//	    // mostly chatter
//	}
package analysis
