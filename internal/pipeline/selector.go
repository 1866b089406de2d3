package pipeline

import (
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// SelectAccount picks the account a signal should trade on.
//
// SELL signals go to the account that holds the symbol. BUY signals go
// to the account with the most settled funds. Both tie-break on the
// lowest account ID so selection is deterministic: snaps must already
// be sorted by account ID (accounts.Manager.Snapshots guarantees it)
// and only a strictly better candidate displaces the current pick.
func SelectAccount(sig domain.TradingSignal, snaps []domain.AccountSnapshot) (domain.AccountSnapshot, bool) {
	if sig.Type == domain.SignalSell {
		for _, snap := range snaps {
			if snap.Holds(sig.Symbol) {
				return snap, true
			}
		}
		return domain.AccountSnapshot{}, false
	}

	var best domain.AccountSnapshot
	found := false
	for _, snap := range snaps {
		if !found || snap.SettledFunds > best.SettledFunds {
			best = snap
			found = true
		}
	}
	return best, found
}
