package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandNodelist(t *testing.T) {
	cases := []struct {
		list string
		want []string
	}{
		{"", nil},
		{"head", []string{"head"}},
		{"n1,n2", []string{"n1", "n2"}},
		{"n[1-3]", []string{"n1", "n2", "n3"}},
		{"n[1-3,7]", []string{"n1", "n2", "n3", "n7"}},
		{"n[001-003]", []string{"n001", "n002", "n003"}},
		{"n[1-2],head,m[5]", []string{"n1", "n2", "head", "m5"}},
	}
	for _, c := range cases {
		got, err := expandNodelist(c.list)
		require.NoError(t, err, c.list)
		assert.Equal(t, c.want, got, c.list)
	}
}

func TestExpandNodelistRejectsBadRanges(t *testing.T) {
	_, err := expandNodelist("n[3-1]")
	assert.Error(t, err)
	_, err = expandNodelist("n[a-b]")
	assert.Error(t, err)
}
