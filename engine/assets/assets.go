package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gfx"
	"github.com/spaghettifunk/kiln/engine/systems"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeImage
	AssetTypeBinary
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeImage:
		return "image"
	case AssetTypeBinary:
		return "binary"
	}
	return "none"
}

// Asset is a file uploaded to the GPU. Resource becomes readable once SyncPoint is
// satisfied; queues other than the upload queue wait for it with SyncPoint.WaitOn.
type Asset struct {
	// Name is the path relative to the asset directory, slash separated.
	Name       string
	Path       string
	Type       AssetType
	Generation uint32
	Resource   *gfx.Resource
	SyncPoint  gfx.SyncPoint
	LastLoaded time.Time
}

var ErrAssetManagerClosed = errors.New("asset manager already closed")

// AssetManager uploads every recognised file under a directory and, when watching,
// uploads it again whenever it changes. Loads run on the job system; the loaded
// asset replaces the previous one when the job system dispatches its callbacks.
type AssetManager struct {
	device  *gfx.Device
	jobs    *systems.JobSystem
	root    string
	loaders map[AssetType]Loader

	mutex     sync.RWMutex
	assets    map[string]*Asset
	requested map[string]uint32
	isClosed  bool

	fsnotify *fsnotify.Watcher
	watching bool
	done     chan struct{}
	stopped  chan struct{}
}

func NewAssetManager(device *gfx.Device, jobs *systems.JobSystem) (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &AssetManager{
		device:    device,
		jobs:      jobs,
		loaders:   make(map[AssetType]Loader),
		assets:    make(map[string]*Asset),
		requested: make(map[string]uint32),
		fsnotify:  fsWatch,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Initialize schedules the upload of every file under assetsDir and starts
// watching it when watch is set.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return err
	}
	am.root = root
	am.watching = watch

	am.registerLoader(AssetTypeImage, &loaders.ImageLoader{})
	am.registerLoader(AssetTypeBinary, &loaders.BinaryLoader{})

	if watch {
		go am.start()
	} else {
		close(am.stopped)
	}

	if err := am.watchRecursive(root); err != nil {
		return err
	}
	core.LogInfo("Asset manager initialized on %s (watch: %v).", root, watch)
	return nil
}

func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// Get returns a snapshot of the named asset.
func (am *AssetManager) Get(name string) (Asset, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	a, ok := am.assets[name]
	if !ok {
		return Asset{}, false
	}
	return *a, true
}

// Names lists the loaded assets in lexical order.
func (am *AssetManager) Names() []string {
	am.mutex.RLock()
	names := make([]string, 0, len(am.assets))
	for name := range am.assets {
		names = append(names, name)
	}
	am.mutex.RUnlock()
	sort.Strings(names)
	return names
}

func (am *AssetManager) assetName(path string) string {
	rel, err := filepath.Rel(am.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Load schedules an upload of the file at path. Earlier loads of the same file still
// in flight are discarded when they finish.
func (am *AssetManager) Load(path string) error {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return nil
	}
	loader, ok := am.loaders[assetType]
	if !ok {
		return fmt.Errorf("no loader registered for asset type %s", assetType)
	}
	name := am.assetName(path)

	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return ErrAssetManagerClosed
	}
	am.requested[name]++
	generation := am.requested[name]
	am.mutex.Unlock()

	return am.jobs.Submit(systems.JobTask{
		Name:        "load " + name,
		InputParams: path,
		OnStart: func(params interface{}) (interface{}, error) {
			res, err := loader.Load(params.(string))
			if err != nil {
				return nil, err
			}
			res.Name = name
			up, err := upload(am.device.Upload(), res)
			if err != nil {
				return nil, fmt.Errorf("upload %s: %w", name, err)
			}
			return &Asset{
				Name:       name,
				Path:       params.(string),
				Type:       assetType,
				Generation: generation,
				Resource:   up.Resource,
				SyncPoint:  up.SyncPoint,
				LastLoaded: time.Now(),
			}, nil
		},
		OnComplete: func(result interface{}) {
			am.install(result.(*Asset))
		},
		OnFailure: func(err error) {
			core.LogWarn("asset %s (generation %d) not loaded: %s", name, generation, err)
		},
	})
}

func (am *AssetManager) install(a *Asset) {
	am.mutex.Lock()
	if am.isClosed || a.Generation != am.requested[a.Name] {
		am.mutex.Unlock()
		core.LogDebug("discarding stale load of %s (generation %d)", a.Name, a.Generation)
		am.retire(a)
		return
	}
	old := am.assets[a.Name]
	am.assets[a.Name] = a
	am.mutex.Unlock()

	if old != nil {
		am.retire(old)
	}
	core.LogInfo("asset %s loaded as %s (generation %d)", a.Name, a.Resource.Label(), a.Generation)
}

// retire releases a's resource once its upload and everything already submitted to
// the device queues, which may still read it, completed.
func (am *AssetManager) retire(a *Asset) {
	points := []gfx.SyncPoint{a.SyncPoint}
	for _, q := range am.device.Queues() {
		points = append(points, q.QueueSyncPoint())
	}
	am.device.DeferRelease(a.Resource, points...)
}

func (am *AssetManager) removeAsset(path string) {
	name := am.assetName(path)
	am.mutex.Lock()
	a, ok := am.assets[name]
	delete(am.assets, name)
	// loads still in flight must not resurrect it
	am.requested[name]++
	am.mutex.Unlock()
	if ok {
		am.retire(a)
		core.LogInfo("asset %s removed", name)
	}
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	s, err := os.Stat(e.Name)
	if err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("cannot watch %s: %s", e.Name, err)
			}
		}
		return
	}
	// Handle create or modify events
	if err == nil && e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		if err := am.Load(e.Name); err != nil {
			core.LogWarn("cannot reload %s: %s", e.Name, err)
		}
	}
	// A removed path cannot be stat'ed, so whether it was a directory is unknown;
	// dropping the watch is harmless either way.
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		am.removeAsset(e.Name)
		_ = am.fsnotify.Remove(e.Name)
	}
}

// watchRecursive walks path, watching every directory when the manager watches and
// scheduling a load for every file.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.watching {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		if err := am.Load(walkPath); err != nil {
			core.LogWarn("cannot load %s: %s", walkPath, err)
		}
		return nil
	})
}

// Shutdown stops watching and releases every asset behind the work that may still
// use it. Callbacks of loads still in flight discard their result.
func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	assets := am.assets
	am.assets = make(map[string]*Asset)
	am.mutex.Unlock()

	close(am.done)
	err := am.fsnotify.Close()
	if am.root != "" {
		<-am.stopped
	}

	for _, a := range assets {
		am.retire(a)
	}
	core.LogInfo("Asset manager shut down, %d assets released.", len(assets))
	return err
}

func determineAssetType(path string) AssetType {
	switch filepath.Ext(path) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeImage
	case ".bin", ".spv", ".raw", ".dat":
		return AssetTypeBinary
	default:
		return AssetTypeNone
	}
}
