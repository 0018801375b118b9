package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitKeys_PrefersMultiOverSingle(t *testing.T) {
	got := splitKeys("a, b ,c", "ignored")
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSplitKeys_FallsBackToSingleWhenMultiEmpty(t *testing.T) {
	got := splitKeys("", "solo-key")
	assert.Equal(t, []string{"solo-key"}, got)
}

func TestSplitKeys_NilWhenBothEmpty(t *testing.T) {
	got := splitKeys("", "")
	assert.Nil(t, got)
}

func TestSplitKeys_SkipsBlankEntries(t *testing.T) {
	got := splitKeys("a,,  ,b", "ignored")
	assert.Equal(t, []string{"a", "b"}, got)
}
