package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBumpLastCustomerMessageAt_SetsWhenNil(t *testing.T) {
	c := &Conversation{}
	now := time.Now()
	c.BumpLastCustomerMessageAt(now)
	assert.Equal(t, now, *c.LastCustomerMessageAt)
}

func TestBumpLastCustomerMessageAt_AdvancesForward(t *testing.T) {
	earlier := time.Now()
	later := earlier.Add(time.Minute)
	c := &Conversation{LastCustomerMessageAt: &earlier}
	c.BumpLastCustomerMessageAt(later)
	assert.Equal(t, later, *c.LastCustomerMessageAt)
}

func TestBumpLastCustomerMessageAt_NeverRegresses(t *testing.T) {
	later := time.Now()
	earlier := later.Add(-time.Minute)
	c := &Conversation{LastCustomerMessageAt: &later}
	c.BumpLastCustomerMessageAt(earlier)
	assert.Equal(t, later, *c.LastCustomerMessageAt, "invariant I2: the timestamp must never decrease")
}
