package embedding

// TemplateSet names one of the frozen classification catalogues.
type TemplateSet string

const (
	SetDirective TemplateSet = "directive"
	SetCategory  TemplateSet = "category"
	SetIntent    TemplateSet = "intent"
	SetAnchor    TemplateSet = "anchor"
)

// rawTemplate is a catalogue entry before its vector is computed.
type rawTemplate struct {
	Category string
	Text     string
}

// Catalogue category identifiers are stable: downstream tagging
// (anchor:<category>, intent:<category>) depends on them.
var catalogues = map[TemplateSet][]rawTemplate{
	SetDirective: {
		{"always", "always do it this way from now on"},
		{"never", "never do that again"},
		{"stop", "stop doing that immediately"},
		{"remember", "remember this for next time"},
		{"preference", "I prefer it done like this"},
		{"correction", "no, that's wrong, it should be like this"},
	},
	SetCategory: {
		{"decision", "we decided to use this approach"},
		{"decision", "let's go with this option"},
		{"solution", "the fix was to change the configuration"},
		{"solution", "this resolves the problem we were seeing"},
		{"discovery", "it turns out the library behaves differently"},
		{"discovery", "I found out the root cause of the behavior"},
	},
	SetIntent: {
		{"declaration", "from now on we will always do it this way"},
		{"declaration", "going forward this is the standard"},
		{"declaration", "every time you do this, follow that rule"},
		{"declaration", "make sure to always run the checks first"},
		{"identity", "my project is called something specific"},
		{"identity", "I built this app myself"},
		{"identity", "this is my repository and my setup"},
		{"identity", "the service is named after my convention"},
		{"preference", "I prefer tabs over spaces"},
		{"preference", "I'd rather use the other library"},
		{"preference", "I like this style much better"},
		{"preference", "use this instead of that"},
		{"frustration", "this keeps breaking and it's annoying"},
		{"frustration", "I hate when the build fails like this"},
		{"frustration", "this error is driving me crazy"},
		{"ownership", "I'll take care of that part"},
		{"ownership", "leave that piece to me"},
	},
	SetAnchor: {
		{"rule", "always follow this rule without exception"},
		{"standard", "this is the standard we use everywhere"},
		{"correction", "that was wrong, do it this way instead"},
		{"preference", "I prefer this approach over the alternative"},
		{"recommendation", "you should consider doing it like this"},
		{"debugging", "the root cause was found and fixed this way"},
	},
}
