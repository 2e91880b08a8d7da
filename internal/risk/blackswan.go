package risk

import (
	"fmt"

	"github.com/wheelops/wheel-engine/internal/observ"
)

// blackSwanTrigger reports whether any activation condition currently holds.
func (g *Governor) blackSwanTrigger(in Inputs) (bool, string) {
	bs := g.cfg.BlackSwan
	if in.Market.VIX > bs.VIXTrigger {
		return true, fmt.Sprintf("VIX %.1f > %.0f", in.Market.VIX, bs.VIXTrigger)
	}
	if in.Market.SectorCorrelation > bs.CorrelationTrigger {
		return true, fmt.Sprintf("sector correlation %.2f > %.2f", in.Market.SectorCorrelation, bs.CorrelationTrigger)
	}
	if in.Market.ExternalHaltLevel >= bs.HaltLevelTrigger {
		return true, fmt.Sprintf("market-wide halt level %d", in.Market.ExternalHaltLevel)
	}
	return false, ""
}

// evalBlackSwan advances the staged protocol. Any trigger while active
// resets to stage 0; recovery advances one stage per clean window.
func (g *Governor) evalBlackSwan(s *State, in Inputs, dayRolled bool) {
	bs := &s.BlackSwan
	triggered, reason := g.blackSwanTrigger(in)

	if triggered {
		if !bs.Active {
			observ.IncCounter("black_swan_activations_total", nil)
			observ.Log("black_swan_activated", map[string]any{"reason": reason})
		} else if bs.Stage > 0 || bs.CleanDays > 0 {
			observ.Log("black_swan_retriggered", map[string]any{"reason": reason, "stage": bs.Stage})
		}
		bs.Active = true
		bs.Stage = 0
		bs.CleanDays = 0
		bs.Reason = reason
		bs.TriggeredAt = in.Now
		return
	}

	if !bs.Active {
		return
	}
	if dayRolled {
		bs.CleanDays++
		if bs.CleanDays >= g.cfg.BlackSwan.StageWindowDays {
			bs.Stage++
			bs.CleanDays = 0
			observ.Log("black_swan_stage_advanced", map[string]any{"stage": bs.Stage})
			if bs.Stage >= 4 {
				bs.Active = false
				bs.Reason = ""
				observ.IncCounter("black_swan_recoveries_total", nil)
				observ.Log("black_swan_deactivated", nil)
			}
		}
	}
}

// blackSwanCap is the sizing ceiling for the current stage.
func blackSwanCap(bs BlackSwan) float64 {
	if !bs.Active {
		return 1.0
	}
	switch bs.Stage {
	case 0:
		return 0.25
	case 1:
		return 0.50
	case 2:
		return 0.75
	default:
		return 1.0
	}
}
