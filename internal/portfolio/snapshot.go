package portfolio

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

// Snapshot is the JSON-serializable, crash-safe persistence form of a
// Portfolio, generalized from the teacher's trader.go BotState
// snapshot/saveStateFrom/loadState technique: atomic temp-file-then-rename
// write so a crash mid-write never corrupts the on-disk state.
type Snapshot struct {
	StrategyID     string                  `json:"strategy_id"`
	InitialCapital decimal.Decimal         `json:"initial_capital"`
	Cash           decimal.Decimal         `json:"cash"`
	RealizedPnL    decimal.Decimal         `json:"realized_pnl"`
	Positions      map[string]domain.Position `json:"positions"`
	EquityCurve    []domain.EquitySample   `json:"equity_curve"`
}

// ToSnapshot captures the current state for persistence.
func (p *Portfolio) ToSnapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	positions := make(map[string]domain.Position, len(p.positions))
	for sym, pos := range p.positions {
		positions[sym] = *pos
	}
	curve := make([]domain.EquitySample, len(p.equityCurve))
	copy(curve, p.equityCurve)
	return Snapshot{
		StrategyID:     p.strategyID,
		InitialCapital: p.initialCapital,
		Cash:           p.cash,
		RealizedPnL:    p.realizedPnL,
		Positions:      positions,
		EquityCurve:    curve,
	}
}

// FromSnapshot rehydrates a Portfolio from a previously persisted Snapshot.
func FromSnapshot(s Snapshot) *Portfolio {
	p := New(s.StrategyID, s.InitialCapital)
	p.cash = s.Cash
	p.realizedPnL = s.RealizedPnL
	for sym, pos := range s.Positions {
		cp := pos
		p.positions[sym] = &cp
	}
	p.equityCurve = append([]domain.EquitySample(nil), s.EquityCurve...)
	return p
}

// SaveState writes the portfolio's snapshot to path atomically: marshal to a
// sibling temp file, fsync, then rename over the destination — the same
// crash-safety technique as the teacher's saveStateFrom.
func (p *Portfolio) SaveState(path string) error {
	snap := p.ToSnapshot()
	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".portfolio-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadState reads a previously saved snapshot from path.
func LoadState(path string) (*Portfolio, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return nil, err
	}
	return FromSnapshot(snap), nil
}
