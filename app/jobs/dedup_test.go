package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeDup(t *testing.T) {
	d := NewDeDup(true)
	assert.True(t, d.Add("1#url1"), "passed, first time")
	assert.False(t, d.Add("1#url1"), "failed, dup")
	assert.True(t, d.Add("2#url1"), "passed, different user")
	assert.False(t, d.Since("1#url1").IsZero())
	d.Remove("1#url1")
	assert.True(t, d.Since("1#url1").IsZero())
	assert.True(t, d.Add("1#url1"), "passed, removed before")
	assert.False(t, d.Add("2#url1"), "failed, dup")
}

func TestDeDupDisabled(t *testing.T) {
	d := NewDeDup(false)
	assert.True(t, d.Add("1#url1"))
	assert.True(t, d.Add("1#url1"))
	d.Remove("1#url1")
	assert.True(t, d.Add("1#url1"), "passed, removed before")
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "42#https://chartink.com/screener/x", dedupKey(42, "https://chartink.com/screener/x"))
}
