package ledger

import "fmt"

// Tamper edits the stored record at index in place without resealing it.
// It exists only to demonstrate that Validate notices the change.
func (l *Ledger) Tamper(index int, edit func(r *Record)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index <= 0 || index >= len(l.records) {
		return fmt.Errorf("cannot tamper with record %d", index)
	}
	edit(&l.records[index])
	return nil
}

// SetField assigns value to the named contract field of r. Amount fields
// must parse as numbers.
func SetField(r *Record, field, value string) error {
	switch field {
	case "fio":
		r.FIO = value
	case "policy_number":
		r.PolicyNumber = value
	case "phone":
		r.Phone = value
	case "object_insured":
		r.ObjectInsured = value
	case "risk":
		r.Risk = value
	case "start_date":
		r.StartDate = value
	case "end_date":
		r.EndDate = value
	case "agent":
		r.Agent = value
	case "timestamp":
		r.Timestamp = value
	case "previous_hash":
		r.PreviousHash = value
	case "current_hash":
		r.CurrentHash = value
	case "premium", "coverage":
		amount, err := ParseAmount(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
		if field == "premium" {
			r.Premium = amount
		} else {
			r.Coverage = amount
		}
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	return nil
}
