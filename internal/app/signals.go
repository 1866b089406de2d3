package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// LoadSignals reads a JSON array of trading signals produced by the
// strategy layer. Symbols are upper-cased and a missing timestamp is
// stamped with the load time; everything else is passed through for
// the rule validator to judge.
func LoadSignals(path string) ([]domain.TradingSignal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app: read signal file: %w", err)
	}

	var signals []domain.TradingSignal
	if err := json.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("app: parse signal file %s: %w", path, err)
	}

	now := time.Now()
	for i := range signals {
		if strings.TrimSpace(signals[i].Symbol) == "" {
			return nil, fmt.Errorf("app: signal %d has no symbol", i)
		}
		signals[i].Symbol = strings.ToUpper(strings.TrimSpace(signals[i].Symbol))
		signals[i].Type = domain.SignalType(strings.ToUpper(string(signals[i].Type)))
		if signals[i].Timestamp.IsZero() {
			signals[i].Timestamp = now
		}
	}
	return signals, nil
}
