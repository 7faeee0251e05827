package ethrpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Receipt is a transaction receipt as returned by the node. The payload is kept
// verbatim; only the execution status is decoded.
type Receipt struct {
	Raw    json.RawMessage
	Status string
}

func ParseReceipt(raw json.RawMessage) (Receipt, error) {
	var fields struct {
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Receipt{}, fmt.Errorf("malformed transaction receipt: %w", err)
	}
	receipt := Receipt{Raw: raw}
	if fields.Status != nil {
		receipt.Status = *fields.Status
	}
	return receipt, nil
}

// Successful reports whether the chain executed the transaction successfully.
// Pre-Byzantium receipts carry no status and are not considered successful.
func (r Receipt) Successful() bool {
	switch strings.ToLower(r.Status) {
	case "0x1", "1", "success":
		return true
	default:
		return false
	}
}

func (r Receipt) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}
