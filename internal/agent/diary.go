package agent

import "fmt"

// diary is the ordered, textual event log of actions and their outcomes
// that gets folded into the decide_action prompt alongside the
// knowledge store, so the LLM sees what it has already tried this run.
type diary struct {
	entries []string
	maxLen  int
	omitted int // actions already folded into the leading summary entry
}

func newDiary(maxLen int) *diary {
	if maxLen <= 0 {
		maxLen = 40
	}
	return &diary{maxLen: maxLen}
}

// append records one action outcome, compacting if the diary has grown
// past its configured size.
func (d *diary) append(entry string) {
	d.entries = append(d.entries, entry)
	d.compact()
}

// compact rolls the oldest half of the diary into a single summary
// entry once it exceeds maxLen, so older context is never silently
// dropped without trace, only condensed.
func (d *diary) compact() {
	if len(d.entries) <= d.maxLen {
		return
	}
	keep := d.maxLen / 2
	rolled := len(d.entries) - keep
	if d.omitted > 0 {
		// entries[0] is the previous summary, not an action.
		d.omitted += rolled - 1
	} else {
		d.omitted = rolled
	}
	summary := fmt.Sprintf("[%d earlier actions omitted]", d.omitted)
	d.entries = append([]string{summary}, d.entries[rolled:]...)
}

// format renders the diary for inclusion in a prompt.
func (d *diary) format() string {
	if len(d.entries) == 0 {
		return "(no actions taken yet)"
	}
	out := ""
	for _, e := range d.entries {
		out += e + "\n"
	}
	return out
}
