package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiary_FormatEmpty(t *testing.T) {
	d := newDiary(10)
	assert.Equal(t, "(no actions taken yet)", d.format())
}

func TestDiary_AppendAndFormat(t *testing.T) {
	d := newDiary(10)
	d.append("[step 0] search \"go\" -> 3 results")
	d.append("[step 1] read \"https://go.dev\" -> 200 bytes")

	formatted := d.format()
	assert.Contains(t, formatted, "search \"go\"")
	assert.Contains(t, formatted, "read \"https://go.dev\"")
}

func TestDiary_CompactsWhenOverCapacity(t *testing.T) {
	d := newDiary(4)
	for i := 0; i < 10; i++ {
		d.append(strings.Repeat("x", 1) + string(rune('a'+i)))
	}

	assert.LessOrEqual(t, len(d.entries), 4)
	assert.Contains(t, d.entries[0], "earlier actions omitted")
}
