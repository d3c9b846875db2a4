// Package analysis looks for periodic structure in recorded series.
//
// Seasonal decay of the infectious pressure forces a yearly cycle; the
// amplitude spectrum of a node's pressure series makes that visible:
//
//	s, err := analysis.Analyze(values, dt)
//	if err == nil {
//	    fmt.Printf("dominant period %.1f days\n", s.DominantPeriod)
//	}
package analysis
