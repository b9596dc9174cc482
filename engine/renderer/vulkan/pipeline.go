package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// Pipeline is a compute pipeline built against the bindless layout. Pipelines live
// until the device is released.
type Pipeline struct {
	label  string
	handle vk.Pipeline
}

func (p *Pipeline) Label() string { return p.label }

func (p *Pipeline) destroy(dev vk.Device) {
	if p.handle != vk.NullPipeline {
		vk.DestroyPipeline(dev, p.handle, nil)
		p.handle = vk.NullPipeline
	}
}

// CreateComputePipelineSPIRV builds a pipeline from a compute shader whose entry point
// is main. The shader reads its root parameters from a 128-byte push-constant block
// and its views from descriptor sets 0-3: storage buffers, sampled images, storage
// images and uniform buffers, each indexed by heap slot.
func (d *Device) CreateComputePipelineSPIRV(label string, code []byte) (driver.PipelineState, error) {
	words, err := spirvWords(code)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", label, err)
	}
	moduleCreateInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := newError("vkCreateShaderModule", vk.CreateShaderModule(d.handle, &moduleCreateInfo, nil, &module)); err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, module, nil)

	createInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  safeString("main"),
		},
		Layout: d.layout.pipelineLayout,
	}
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(d.handle, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines)
	if err := newError("vkCreateComputePipelines", res); err != nil {
		return nil, err
	}

	p := &Pipeline{label: label, handle: pipelines[0]}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		p.destroy(d.handle)
		return nil, fmt.Errorf("vulkan: pipeline %q created after release: %w", label, core.ErrContractViolation)
	}
	d.pipelines = append(d.pipelines, p)
	core.LogDebug("vulkan: compute pipeline %q created", label)
	return p, nil
}
