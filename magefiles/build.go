//go:build mage

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Binary builds the kiln binary into bin/.
func (Build) Binary() error {
	if _, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "kiln"), "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Release builds the kiln binary with the release tag: no contract checks, large resident descriptor table.
func (Build) Release() error {
	if _, err := executeCmd("go", withArgs("build", "-tags", "release", "-o", filepath.Join("bin", "kiln-release"), "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Shaders compiles every compute shader under assets/shaders to SPIR-V for the vulkan backend.
func (Build) Shaders() error {
	sources, err := filepath.Glob(filepath.Join("assets", "shaders", "*.comp"))
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("no compute shaders to build")
		return nil
	}
	for _, src := range sources {
		out := strings.TrimSuffix(src, ".comp") + ".spv"
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

type Test mg.Namespace

// Unit runs every unit test with the race detector.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Release runs the tests again with the release tag.
func (Test) Release() error {
	_, err := executeCmd("go", withArgs("test", "-tags", "release", "./..."), withStream())
	return err
}

// Software runs the tests that need no GPU and no cgo.
func (Test) Software() error {
	_, err := executeCmd("go",
		withArgs("test", "./engine/core/...", "./engine/containers/...", "./engine/math/...",
			"./engine/renderer/driver/...", "./engine/renderer/software/...", "./engine/renderer/gfx/..."),
		withEnv("CGO_ENABLED=0"),
		withStream())
	return err
}
