package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidFieldPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"title", true},
		{"items[3].checked", true},
		{"steps[0].text", true},
		{"items[12]", true},
		{"", false},
		{"items[]", false},
		{"items[-1]", false},
		{"3items", false},
		{"items..checked", false},
		{"items[1]checked", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidFieldPath(tt.path))
		})
	}
}

func TestFieldAncestors(t *testing.T) {
	assert.Equal(t, []string{"items", "items[3]"}, FieldAncestors("items[3].checked"))
	assert.Empty(t, FieldAncestors("title"))
	assert.Equal(t, "items", FieldRoot("items[3].checked"))
	assert.Equal(t, "title", FieldRoot("title"))
}

func TestIsFieldDescendant(t *testing.T) {
	assert.True(t, IsFieldDescendant("items[3].checked", "items[3]"))
	assert.True(t, IsFieldDescendant("items[3]", "items"))
	assert.False(t, IsFieldDescendant("items[30]", "items[3]"))
	assert.False(t, IsFieldDescendant("items", "items"))
	assert.False(t, IsFieldDescendant("itemsx", "items"))
}

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity("u1", "")
	assert.NoError(t, err)
	assert.Equal(t, Identity{ID: "u1", DisplayName: "u1"}, id)

	_, err = NewIdentity("", "Alice")
	assert.ErrorIs(t, err, ErrUserIDEmpty)
}
