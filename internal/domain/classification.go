package domain

// Classification summarises an approval batch over all line items of an
// order.
type Classification string

const (
	FullyApproved     Classification = "fully_approved"
	PartiallyApproved Classification = "partially_approved"
	AllRejected       Classification = "all_rejected"
)

// Classify inspects the effective quantities of items. Every item approved
// at zero yields AllRejected, any item below its requested quantity yields
// PartiallyApproved, anything else is FullyApproved. An empty slice is
// FullyApproved.
func Classify(items []OrderItem) Classification {
	if len(items) == 0 {
		return FullyApproved
	}

	allRejected := true
	reduced := false
	for _, item := range items {
		approved := item.EffectiveQuantity()
		if approved > 0 {
			allRejected = false
		}
		if approved < item.Quantity {
			reduced = true
		}
	}

	switch {
	case allRejected:
		return AllRejected
	case reduced:
		return PartiallyApproved
	default:
		return FullyApproved
	}
}
