package logstream

import "encoding/json"

// wireRecord is Record's on-stream JSON encoding. Matches spec.md §6's
// stream layout: "records carry {epoch, op, path, payload}".
type wireRecord struct {
	Epoch   string `json:"epoch"`
	Op      string `json:"op"`
	Path    string `json:"path"`
	Payload []byte `json:"payload"`
}

func encodeRecord(rec Record) ([]byte, error) {
	return json.Marshal(wireRecord{
		Epoch:   rec.Epoch,
		Op:      rec.Op.String(),
		Path:    rec.Path,
		Payload: rec.Payload,
	})
}

func decodeRecord(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, err
	}
	return Record{
		Op:      parseOp(w.Op),
		Path:    w.Path,
		Payload: w.Payload,
		Epoch:   w.Epoch,
	}, nil
}

func parseOp(s string) Op {
	switch s {
	case "Delete":
		return OpDelete
	case "Close":
		return OpClose
	default:
		return OpAppend
	}
}
