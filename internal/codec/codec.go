// Package codec reads and writes the JSON ledger file.
//
// Stored hashes are carried through verbatim in both directions. Recomputing
// them on load would erase the evidence that Validate is meant to find.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/policyledger/policyledger/internal/ledger"
)

type fileRecord struct {
	FIO           text   `json:"fio"`
	PolicyNumber  text   `json:"policy_number"`
	Phone         text   `json:"phone"`
	ObjectInsured text   `json:"object_insured"`
	Risk          text   `json:"risk"`
	StartDate     text   `json:"start_date"`
	EndDate       text   `json:"end_date"`
	Premium       amount `json:"premium"`
	Coverage      amount `json:"coverage"`
	Agent         *text  `json:"agent"`
	Timestamp     text   `json:"timestamp"`
	PreviousHash  text   `json:"previous_hash"`
	CurrentHash   text   `json:"current_hash"`
}

// text accepts a JSON string, a bare number (kept as its literal) or null.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected text, got %s", b)
	}
	*t = text(n.String())
	return nil
}

// amount accepts a JSON number, a numeric string or null.
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := ledger.ParseAmount(s)
		if err != nil {
			return fmt.Errorf("invalid amount %q", s)
		}
		*a = amount(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid amount %s", b)
	}
	*a = amount(v)
	return nil
}

func (r *fileRecord) toRecord() ledger.Record {
	agent := ledger.DefaultAgent
	if r.Agent != nil {
		agent = string(*r.Agent)
	}

	return ledger.Record{
		Fields: ledger.Fields{
			FIO:           string(r.FIO),
			PolicyNumber:  string(r.PolicyNumber),
			Phone:         string(r.Phone),
			ObjectInsured: string(r.ObjectInsured),
			Risk:          string(r.Risk),
			StartDate:     string(r.StartDate),
			EndDate:       string(r.EndDate),
			Premium:       float64(r.Premium),
			Coverage:      float64(r.Coverage),
			Agent:         agent,
		},
		Timestamp:    string(r.Timestamp),
		PreviousHash: string(r.PreviousHash),
		CurrentHash:  string(r.CurrentHash),
	}
}

// Encode writes records, which must exclude genesis, as an indented JSON array.
func Encode(w io.Writer, records []ledger.Record) error {
	if records == nil {
		records = []ledger.Record{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	return nil
}

func Marshal(records []ledger.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a ledger document. Any structural problem is reported as a
// *ledger.CorruptFileError.
func Decode(r io.Reader) ([]ledger.Record, error) {
	dec := json.NewDecoder(r)

	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, &ledger.CorruptFileError{Err: err}
	}
	if raw == nil {
		return nil, &ledger.CorruptFileError{Err: errors.New("document is not an array")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ledger.CorruptFileError{Err: errors.New("unexpected data after array")}
	}

	records := make([]ledger.Record, 0, len(raw))
	for i, item := range raw {
		if len(item) == 0 || item[0] != '{' {
			return nil, &ledger.CorruptFileError{Err: fmt.Errorf("entry %d is not an object", i)}
		}
		var fr fileRecord
		if err := json.Unmarshal(item, &fr); err != nil {
			return nil, &ledger.CorruptFileError{Err: fmt.Errorf("entry %d: %w", i, err)}
		}
		records = append(records, fr.toRecord())
	}

	return records, nil
}

func Unmarshal(data []byte) ([]ledger.Record, error) {
	return Decode(bytes.NewReader(data))
}

func Load(path string) ([]ledger.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ledger.IOError{Op: "read", Path: path, Err: err}
	}

	records, err := Unmarshal(data)
	if err != nil {
		var ce *ledger.CorruptFileError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return records, nil
}

// Save writes records to path through a temporary file in the same
// directory, so the previous file survives a failed write.
func Save(path string, records []ledger.Record) error {
	data, err := Marshal(records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &ledger.IOError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &ledger.IOError{Op: "write", Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ledger.IOError{Op: "write", Path: path, Err: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &ledger.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
