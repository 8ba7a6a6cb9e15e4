package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	c, ok := Lookup(" vietnam ")
	assert.True(t, ok)
	assert.Equal(t, "VN", c.Code)
	assert.Equal(t, "vn", c.TLD)

	c, ok = Lookup("UK")
	assert.True(t, ok)
	assert.Equal(t, "uk", c.TLD)

	c, ok = Lookup("de")
	assert.True(t, ok)
	assert.Equal(t, "Germany", c.Name)

	_, ok = Lookup("Atlantis")
	assert.False(t, ok)
}

func TestCodes(t *testing.T) {
	assert.Equal(t, []string{"VN", "TH"}, Codes([]string{"Vietnam", "Viet Nam", "Atlantis", "Thailand"}))
	assert.Empty(t, Codes(nil))
}
