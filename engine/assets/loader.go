package assets

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gfx"
)

type Loader interface {
	Load(path string) (*loaders.Resource, error)
}

var ErrEmptyAsset = errors.New("asset has no data")

// upload copies a loaded resource into a new GPU resource through the upload queue.
// Images become RGBA8 textures, everything else a buffer.
func upload(u *gfx.UploadQueue, res *loaders.Resource) (gfx.InitiatedUpload, error) {
	switch data := res.Data.(type) {
	case *loaders.ImageData:
		desc := driver.Texture2DDesc(data.Width, data.Height, driver.FormatRGBA8Unorm, driver.ResourceFlagNone)
		if err := desc.Validate(); err != nil {
			return gfx.InitiatedUpload{}, err
		}
		p := u.AllocateTexture(desc, res.Name)
		for y := uint32(0); y < p.Rows(); y++ {
			copy(p.Row(y), data.Row(y))
		}
		return p.InitiateUpload(), nil

	case []byte:
		if len(data) == 0 {
			return gfx.InitiatedUpload{}, ErrEmptyAsset
		}
		p := u.AllocateBuffer(uint64(len(data)), res.Name)
		copy(p.Bytes(), data)
		return p.InitiateUpload(), nil
	}
	return gfx.InitiatedUpload{}, fmt.Errorf("unsupported asset payload %T", res.Data)
}
