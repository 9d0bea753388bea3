package transcript

import "regexp"

// Signal axes: regex families weighted by how strongly they indicate a
// durable user directive. Per-axis score is min(count*weight, 2*weight).
type signalAxis struct {
	Name    string
	Weight  float64
	Pattern *regexp.Regexp
}

var signalAxes = []signalAxis{
	{"directive", 1.0, regexp.MustCompile(`(?i)\b(always|never|must|should|have to|ensure|make sure|don't ever)\b`)},
	{"decisional", 0.9, regexp.MustCompile(`(?i)\b(let's use|go with|decided|picked|we'll use)\b`)},
	{"consistency", 0.9, regexp.MustCompile(`(?i)\b(consistent|match|standardize|uniform|everywhere)\b`)},
	{"preference", 0.8, regexp.MustCompile(`(?i)\bI (like|prefer|want|hate|love)\b|\b(rather|instead of)\b`)},
	{"identity", 0.8, regexp.MustCompile(`(?i)\b(my project|my app|I built|is called|my repo)\b`)},
	{"emotional", 0.7, regexp.MustCompile(`(?i)\b(love|hate|annoying|terrible|awesome)\b`)},
	{"temporal", 0.7, regexp.MustCompile(`(?i)\b(from now on|going forward|every time|whenever)\b`)},
	{"evaluative", 0.6, regexp.MustCompile(`(?i)\b(works|broken|good|bad|clean|messy)\b`)},
}

// SignalScore holds per-axis raw scores and their sum.
type SignalScore struct {
	Axes  map[string]float64
	Total float64
}

// ScoreSignals runs the weighted axis scorer over one message.
func ScoreSignals(text string) SignalScore {
	score := SignalScore{Axes: make(map[string]float64, len(signalAxes))}
	for _, axis := range signalAxes {
		matches := axis.Pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		s := float64(len(matches)) * axis.Weight
		if limit := 2 * axis.Weight; s > limit {
			s = limit
		}
		score.Axes[axis.Name] = s
		score.Total += s
	}
	return score
}

// PassesDirectiveGate is the regex half of rule-proposal promotion: the
// directive, temporal and consistency axes together must reach 0.5 on top
// of the semantic match.
func (s SignalScore) PassesDirectiveGate() bool {
	return s.Axes["directive"]+s.Axes["temporal"]+s.Axes["consistency"] >= 0.5
}

// Debugging-pattern regexes (§4.6): a resolution statement preceded by an
// error mention within the lookback window marks a captured fix.
var (
	resolutionPattern = regexp.MustCompile(`(?i)\b(fix was|solution is|the issue was|root cause|now works|resolved by|the problem was)\b`)
	errorPattern      = regexp.MustCompile(`(?i)\b(error|failed|doesn't work|ENOENT|EACCES|EPERM|TypeError|ReferenceError|SyntaxError|exit code [1-9]|command not found)\b`)
)

// errorLookback is how many messages before a resolution are searched for a
// preceding error.
const errorLookback = 8
