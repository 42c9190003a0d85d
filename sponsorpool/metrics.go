package sponsorpool

import "github.com/ethereum/go-ethereum/metrics"

var (
	depositMeter  = metrics.NewRegisteredMeter("sponsorpool/deposits", nil)
	withdrawMeter = metrics.NewRegisteredMeter("sponsorpool/withdrawals", nil)
	deductMeter   = metrics.NewRegisteredMeter("sponsorpool/deductions", nil)

	uncoveredCounter    = metrics.NewRegisteredCounter("sponsorpool/uncovered", nil)
	transferFailCounter = metrics.NewRegisteredCounter("sponsorpool/transferfail", nil)
	burnFailCounter     = metrics.NewRegisteredCounter("sponsorpool/burnfail", nil)
)
