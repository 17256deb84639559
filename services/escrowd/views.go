package escrowd

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/antiabuse"
	"bountyescrow/native/circuit"
	"bountyescrow/native/escrow"
	"bountyescrow/native/program"
)

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address", errBadRequest, field)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a decimal integer", errBadRequest, field)
	}
	return amount, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type escrowView struct {
	ID        uint64 `json:"id"`
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	Deadline  uint64 `json:"deadline"`
	CreatedAt uint64 `json:"createdAt"`
}

func newEscrowView(e *escrow.Escrow) escrowView {
	return escrowView{
		ID:        e.ID,
		Depositor: e.Depositor.Hex(),
		Amount:    amountString(e.Amount),
		Remaining: amountString(e.RemainingAmount),
		Status:    e.Status.String(),
		Deadline:  e.Deadline,
		CreatedAt: e.CreatedAt,
	}
}

type claimView struct {
	BountyID  uint64 `json:"bountyId"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	CreatedAt uint64 `json:"createdAt"`
	ExpiresAt uint64 `json:"expiresAt"`
	Claimed   bool   `json:"claimed"`
}

func newClaimView(c *escrow.PendingClaim) claimView {
	return claimView{
		BountyID:  c.BountyID,
		Recipient: c.Recipient.Hex(),
		Amount:    amountString(c.Amount),
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
		Claimed:   c.Claimed,
	}
}

type payoutView struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Timestamp uint64 `json:"timestamp"`
}

type programView struct {
	ID        string       `json:"id"`
	PayoutKey string       `json:"payoutKey"`
	Total     string       `json:"totalFunds"`
	Remaining string       `json:"remainingBalance"`
	CreatedAt uint64       `json:"createdAt"`
	Payouts   []payoutView `json:"payouts"`
}

func newProgramView(p *program.Program) programView {
	view := programView{
		ID:        p.ID,
		PayoutKey: p.PayoutKey.Hex(),
		Total:     amountString(p.TotalFunds),
		Remaining: amountString(p.RemainingBalance),
		CreatedAt: p.CreatedAt,
		Payouts:   make([]payoutView, 0, len(p.Payouts)),
	}
	for _, payout := range p.Payouts {
		view.Payouts = append(view.Payouts, payoutView{
			Recipient: payout.Recipient.Hex(),
			Amount:    amountString(payout.Amount),
			Fee:       amountString(payout.Fee),
			Timestamp: payout.Timestamp,
		})
	}
	return view
}

type scheduleView struct {
	ID         uint64 `json:"id"`
	ProgramID  string `json:"programId"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	ReleaseAt  uint64 `json:"releaseAt"`
	Released   bool   `json:"released"`
	ReleasedAt uint64 `json:"releasedAt,omitempty"`
	ReleasedBy string `json:"releasedBy,omitempty"`
}

func newScheduleView(s *program.Schedule) scheduleView {
	view := scheduleView{
		ID:         s.ID,
		ProgramID:  s.ProgramID,
		Recipient:  s.Recipient.Hex(),
		Amount:     amountString(s.Amount),
		ReleaseAt:  s.ReleaseAt,
		Released:   s.Released,
		ReleasedAt: s.ReleasedAt,
	}
	if s.Released {
		view.ReleasedBy = s.ReleasedBy.Hex()
	}
	return view
}

func newScheduleViews(list []*program.Schedule) []scheduleView {
	out := make([]scheduleView, 0, len(list))
	for _, s := range list {
		out = append(out, newScheduleView(s))
	}
	return out
}

type releaseView struct {
	ScheduleID uint64 `json:"scheduleId"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	ReleasedAt uint64 `json:"releasedAt"`
	Type       string `json:"type"`
}

func newReleaseViews(list []program.ReleaseRecord) []releaseView {
	out := make([]releaseView, 0, len(list))
	for _, r := range list {
		out = append(out, releaseView{
			ScheduleID: r.ScheduleID,
			Recipient:  r.Recipient.Hex(),
			Amount:     amountString(r.Amount),
			Fee:        amountString(r.Fee),
			ReleasedAt: r.ReleasedAt,
			Type:       r.Type.String(),
		})
	}
	return out
}

type feeView struct {
	LockFeeRate   uint32 `json:"lockFeeRate"`
	PayoutFeeRate uint32 `json:"payoutFeeRate"`
	Recipient     string `json:"recipient"`
	Enabled       bool   `json:"enabled"`
}

func newFeeView(cfg program.FeeConfig) feeView {
	return feeView{
		LockFeeRate:   cfg.LockFeeRate,
		PayoutFeeRate: cfg.PayoutFeeRate,
		Recipient:     cfg.Recipient.Hex(),
		Enabled:       cfg.Enabled,
	}
}

type multisigView struct {
	Threshold         string   `json:"threshold"`
	Signers           []string `json:"signers"`
	RequiredApprovals uint32   `json:"requiredApprovals"`
}

func hexList(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Hex())
	}
	return out
}

type approvalView struct {
	Recipient string   `json:"recipient"`
	Amount    string   `json:"amount"`
	Approvers []string `json:"approvers"`
}

type rateLimitView struct {
	WindowSize     uint64 `json:"windowSize"`
	MaxOperations  uint32 `json:"maxOperations"`
	CooldownPeriod uint64 `json:"cooldownPeriod"`
}

func newRateLimitView(cfg antiabuse.Config) rateLimitView {
	return rateLimitView{WindowSize: cfg.WindowSize, MaxOperations: cfg.MaxOperations, CooldownPeriod: cfg.CooldownPeriod}
}

type circuitConfigView struct {
	FailureThreshold uint32 `json:"failureThreshold"`
	SuccessThreshold uint32 `json:"successThreshold"`
	MaxErrorLog      uint32 `json:"maxErrorLog"`
}

type circuitView struct {
	State                string            `json:"state"`
	ConsecutiveFailures  uint32            `json:"consecutiveFailures"`
	ConsecutiveSuccesses uint32            `json:"consecutiveSuccesses"`
	TotalFailures        uint64            `json:"totalFailures"`
	LastFailureAt        uint64            `json:"lastFailureAt"`
	OpenedAt             uint64            `json:"openedAt"`
	Config               circuitConfigView `json:"config"`
}

func newCircuitView(st circuit.Status) circuitView {
	return circuitView{
		State:                st.State.String(),
		ConsecutiveFailures:  st.ConsecutiveFailures,
		ConsecutiveSuccesses: st.ConsecutiveSuccesses,
		TotalFailures:        st.TotalFailures,
		LastFailureAt:        st.LastFailureAt,
		OpenedAt:             st.OpenedAt,
		Config: circuitConfigView{
			FailureThreshold: st.Config.FailureThreshold,
			SuccessThreshold: st.Config.SuccessThreshold,
			MaxErrorLog:      st.Config.MaxErrorLog,
		},
	}
}

type errorEntryView struct {
	ProgramID string `json:"programId"`
	Operation string `json:"operation"`
	ErrorCode uint32 `json:"errorCode"`
	Timestamp uint64 `json:"timestamp"`
}
