//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Demo runs the testbed on the software backend for a few hundred frames.
func (Run) Demo() error {
	mg.Deps(Build.Binary)
	fmt.Println("Run demo...")
	_, err := executeCmd("./bin/kiln", withArgs("-backend", "software", "-frames", "600"), withStream())
	return err
}

// Vulkan runs the testbed on the vulkan backend; needs a Vulkan driver and the compiled shaders.
func (Run) Vulkan() error {
	mg.Deps(Build.Binary, Build.Shaders)
	if _, err := os.Stat("assets/shaders/advance.spv"); err != nil {
		return fmt.Errorf("assets/shaders/advance.spv missing: %w", err)
	}
	_, err := executeCmd("./bin/kiln", withArgs("-backend", "vulkan", "-frames", "600"), withStream())
	return err
}
