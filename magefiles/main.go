//go:build mage

// Package main provides development automation.
package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Dev groups commands for local development.
type Dev mg.Namespace

// Test runs the full test suite.
func (Dev) Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Build builds the local dependency containers (database, mocked cloud endpoint).
func (Dev) Build() error {
	return sh.RunV("docker", "compose", "build")
}

// Up starts the local dependency containers and waits for them to be healthy.
func (Dev) Up() error {
	return sh.RunV("docker", "compose", "up", "-d", "--wait")
}

// Down stops the local dependency containers.
func (Dev) Down() error {
	return sh.RunV("docker", "compose", "down")
}

// Clean stops the containers and removes their volumes.
func (Dev) Clean() error {
	return sh.RunV("docker", "compose", "down", "--volumes")
}

// Prune removes containers, volumes and locally built images.
func (Dev) Prune() error {
	return sh.RunV("docker", "compose", "down", "--volumes", "--rmi", "local", "--remove-orphans")
}
