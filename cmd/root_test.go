package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"serve", "migrate", "version"}, names)
	assert.NotNil(t, root.RunE)
}
