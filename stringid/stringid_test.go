package stringid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf_Stable(t *testing.T) {
	assert.Equal(t, Of("render"), Of("render"))
	assert.NotEqual(t, Of("render"), Of("update"))
}

func TestOf_Empty(t *testing.T) {
	assert.Equal(t, None, Of(""))
}
