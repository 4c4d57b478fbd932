package ledger

import (
	"strconv"
	"strings"

	"github.com/policyledger/policyledger/internal/hash"
)

// TimestampLayout is the wall-clock format stored in every record.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	genesisTimestamp    = "2025-01-01 00:00:00"
	genesisPreviousHash = "0"
	placeholder         = "N/A"
)

// Fields holds the ten contract attributes supplied by the caller.
type Fields struct {
	FIO           string  `json:"fio"`
	PolicyNumber  string  `json:"policy_number"`
	Phone         string  `json:"phone"`
	ObjectInsured string  `json:"object_insured"`
	Risk          string  `json:"risk"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	Premium       float64 `json:"premium"`
	Coverage      float64 `json:"coverage"`
	Agent         string  `json:"agent"`
}

// Record is one contract sealed into the chain.
type Record struct {
	Fields
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	CurrentHash  string `json:"current_hash"`
}

// NewRecord seals fields onto previousHash. The timestamp must already be
// formatted with TimestampLayout.
func NewRecord(fields Fields, previousHash, timestamp string) Record {
	r := Record{
		Fields:       fields,
		Timestamp:    timestamp,
		PreviousHash: previousHash,
	}
	r.CurrentHash = Recompute(r)
	return r
}

// Recompute derives the hash of r from its field values and stored previous
// hash. It never looks at r.CurrentHash.
func Recompute(r Record) string {
	var b strings.Builder
	b.WriteString(r.FIO)
	b.WriteString(r.PolicyNumber)
	b.WriteString(r.Phone)
	b.WriteString(r.ObjectInsured)
	b.WriteString(r.Risk)
	b.WriteString(r.StartDate)
	b.WriteString(r.EndDate)
	b.WriteString(FormatAmount(r.Premium))
	b.WriteString(FormatAmount(r.Coverage))
	b.WriteString(r.Agent)
	b.WriteString(r.Timestamp)
	b.WriteString(r.PreviousHash)
	return hash.CalculateString(b.String())
}

// FormatAmount renders a money amount with exactly two decimal digits, the
// form that enters the hash.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ParseAmount reads a money amount typed by a user. Blank input means 0.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Genesis returns the fixed root record at index 0.
func Genesis() Record {
	return NewRecord(Fields{
		FIO:           "Genesis",
		PolicyNumber:  placeholder,
		Phone:         placeholder,
		ObjectInsured: placeholder,
		Risk:          placeholder,
		StartDate:     placeholder,
		EndDate:       placeholder,
		Agent:         placeholder,
	}, genesisPreviousHash, genesisTimestamp)
}

// DefaultAgent is used when a stored record carries no agent.
const DefaultAgent = placeholder
