package billing

// Thresholds are the balance levels that trigger side effects. Low
// warns the caller; None is the floor below which the session is cut
// off.
type Thresholds struct {
	Low  float64
	None float64
}

// Breach reports which thresholds a balance has crossed. Both can be
// true at once; a balance at the cut-off floor has usually passed the
// warning level too.
type Breach struct {
	Low bool
	No  bool
}

// Evaluate compares a balance against the thresholds.
func Evaluate(balance float64, th Thresholds) Breach {
	return Breach{
		Low: balance <= th.Low,
		No:  balance <= th.None,
	}
}
