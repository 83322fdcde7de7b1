package models

import "time"

// ResearchRequest is the market context a trader hands its research collaborator.
type ResearchRequest struct {
	Trader   string
	Strategy string
	Mode     Mode
	Symbols  []string // symbols currently held or targeted
	At       time.Time
}
