package reconcile

// Weights are the individual signal contributions to a match score.
type Weights struct {
	BankExact   float64 // normalized bank keys equal
	BankPartial float64 // one raw channel string contains the other
	DateNear    float64 // within the day window
	DateFar     float64 // within three days
	AmountExact float64 // remaining balances equal within Epsilon
	AmountNear  float64 // remaining balances within AmountNearBand
	AmountHelp  float64 // deposit remainder is a usable partial

	VendorMatch float64
	StoreMatch  float64

	ReservationBonus   float64
	ReservationPenalty float64 // per disagreeing attribution field
	ExhaustedPenalty   float64 // deposit remainder already consumed
}

// Config tunes the scorer and allocator. It is passed in explicitly so
// deployments and tests can override any knob without touching globals.
type Config struct {
	Weights        Weights
	AmountNearBand float64 // currency units counted as "near"

	AutoSingle float64 // minimum score for automatic 1:1 settlement
	AutoMulti  float64 // minimum mean score for automatic 1:N settlement

	DayWindow     int // candidate date tolerance, in days
	MaxCandidates int // suggestion list bound when parking a record
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			BankExact:          40,
			BankPartial:        20,
			DateNear:           20,
			DateFar:            10,
			AmountExact:        25,
			AmountNear:         15,
			AmountHelp:         10,
			VendorMatch:        15,
			StoreMatch:         15,
			ReservationBonus:   10,
			ReservationPenalty: 15,
			ExhaustedPenalty:   30,
		},
		AmountNearBand: 5,
		AutoSingle:     70,
		AutoMulti:      85,
		DayWindow:      1,
		MaxCandidates:  10,
	}
}
