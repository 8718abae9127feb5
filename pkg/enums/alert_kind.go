package enums

// AlertKind labels stock alerts emitted to the ops collaborator.
type AlertKind string

const (
	AlertKindLowStock        AlertKind = "low_stock"
	AlertKindOutOfStock      AlertKind = "out_of_stock"
	AlertKindLedgerInvariant AlertKind = "ledger_invariant"
)

func (a AlertKind) String() string {
	return string(a)
}
