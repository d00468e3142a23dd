package risk

import "math"

// Inputs describes a planned entry for volume sizing.
type Inputs struct {
	Equity       float64
	RiskPct      float64 // 0.01 risks 1% of equity
	EntryPrice   float64
	StopPrice    float64
	ContractSize float64 // account currency per 1.0 price move per lot
	VolumeStep   float64 // smallest tradable increment, e.g. 0.01 lots
	MinVolume    float64
	MaxVolume    float64 // 0 means no cap
}

type Result struct {
	Volume     float64
	StopDist   float64
	RiskAmount float64
}

// SizeVolume returns the volume that loses RiskPct of Equity if the stop is
// hit, rounded down to VolumeStep. Volume is 0 when the inputs cannot size a
// trade or the result is below MinVolume.
func SizeVolume(in Inputs) Result {
	dist := math.Abs(in.EntryPrice - in.StopPrice)
	riskAmt := in.Equity * in.RiskPct
	res := Result{StopDist: dist, RiskAmount: riskAmt}

	cs := in.ContractSize
	if cs <= 0 {
		cs = 1
	}
	if dist == 0 || riskAmt <= 0 {
		return res
	}

	v := riskAmt / (dist * cs)
	if in.VolumeStep > 0 {
		// epsilon absorbs float noise like 0.3/0.1 = 2.9999999999999996
		v = math.Floor(v/in.VolumeStep+1e-9) * in.VolumeStep
	}
	if in.MaxVolume > 0 && v > in.MaxVolume {
		v = in.MaxVolume
	}
	if v < in.MinVolume || v <= 0 {
		return res
	}
	res.Volume = v
	return res
}

// RR is reward over risk for an entry, stop and target.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}
