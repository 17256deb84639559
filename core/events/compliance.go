package events

import (
	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/core/types"
)

const (
	TypeComplianceBlacklistAdded   = "compliance.blacklist_added"
	TypeComplianceBlacklistRemoved = "compliance.blacklist_removed"
	TypeComplianceWhitelistAdded   = "compliance.whitelist_added"
	TypeComplianceWhitelistRemoved = "compliance.whitelist_removed"
	TypeComplianceWhitelistMode    = "compliance.whitelist_mode"
)

// ComplianceListChanged is emitted whenever an address enters or leaves one of
// the participant lists.
type ComplianceListChanged struct {
	Address   common.Address
	Blacklist bool
	Added     bool
	Reason    string
	Timestamp uint64
}

func (e ComplianceListChanged) EventType() string {
	switch {
	case e.Blacklist && e.Added:
		return TypeComplianceBlacklistAdded
	case e.Blacklist:
		return TypeComplianceBlacklistRemoved
	case e.Added:
		return TypeComplianceWhitelistAdded
	default:
		return TypeComplianceWhitelistRemoved
	}
}

func (e ComplianceListChanged) Event() *types.Event {
	attrs := map[string]string{
		"address":   addressString(e.Address),
		"timestamp": uintToString(e.Timestamp),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}

type WhitelistModeChanged struct {
	Enabled   bool
	Timestamp uint64
}

func (WhitelistModeChanged) EventType() string { return TypeComplianceWhitelistMode }

func (e WhitelistModeChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeComplianceWhitelistMode,
		Attributes: map[string]string{
			"enabled":   boolToString(e.Enabled),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}
