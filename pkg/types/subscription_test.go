package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionStatusCanTransition(t *testing.T) {
	assert.True(t, SubscriptionStatusFree.CanTransition(SubscriptionStatusSubscribed))
	assert.True(t, SubscriptionStatusFree.CanTransition(SubscriptionStatusFree))
	assert.False(t, SubscriptionStatusFree.CanTransition(SubscriptionStatusPastDue))
	assert.True(t, SubscriptionStatusPastDue.CanTransition(SubscriptionStatusSubscribed))
	assert.True(t, SubscriptionStatusPastDue.CanTransition(SubscriptionStatusFree))
	assert.True(t, SubscriptionStatusSubscribed.CanTransition(SubscriptionStatusPastDue))
}
