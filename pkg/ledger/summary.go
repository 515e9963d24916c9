package ledger

// Stats counts transactions per status.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Cleared int `json:"cleared"`
	Flagged int `json:"flagged"`
}

// Summarize counts txs by status.
func Summarize(txs []Transaction) Stats {
	s := Stats{Total: len(txs)}
	for _, tx := range txs {
		switch tx.Status {
		case StatusCleared:
			s.Cleared++
		case StatusFlagged:
			s.Flagged++
		default:
			s.Pending++
		}
	}
	return s
}

// Filter returns the transactions in status. An empty status
// keeps everything.
func Filter(txs []Transaction, status Status) []Transaction {
	if status == "" {
		return txs
	}
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out
}
