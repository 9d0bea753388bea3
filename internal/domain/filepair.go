package domain

// FilePair is a co-change record: two files observed modified in the same
// commit, keyed by (project, file_a, file_b) in first-observed order (§3.4).
type FilePair struct {
	Project       string
	FileA         string
	FileB         string
	CoChangeCount int
	LastSeen      string // YYYY-MM-DD
}

// MinCoChangeFiles and MaxCoChangeFiles bound commits eligible for co-change
// recording per §4.5: "≥2 and <20 files".
const (
	MinCoChangeFiles = 2
	MaxCoChangeFiles = 20
)
