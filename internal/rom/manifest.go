package rom

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest is the TOML build manifest the `pack` CLI consumes (§6).
type Manifest struct {
	Game   GameSection   `toml:"game"`
	Assets AssetsSection `toml:"assets"`
}

// GameSection mirrors the ROM header fields an author controls directly.
type GameSection struct {
	ID          string   `toml:"id"`
	Title       string   `toml:"title"`
	Author      string   `toml:"author"`
	Version     string   `toml:"version"`
	Description string   `toml:"description"`
	Tags        []string `toml:"tags"`
	MaxPlayers  uint8    `toml:"max_players"`
	TickRate    int      `toml:"tick_rate"` // 60 or 120
	WASM        string   `toml:"wasm"`
}

// AssetRef names one on-disk asset to fold into the data pack.
type AssetRef struct {
	ID   string `toml:"id"`
	Path string `toml:"path"`
}

// AssetsSection lists every asset kind's entries, keyed by pack section.
type AssetsSection struct {
	Textures  []AssetRef `toml:"textures"`
	Meshes    []AssetRef `toml:"meshes"`
	Skeletons []AssetRef `toml:"skeletons"`
	Keyframes []AssetRef `toml:"keyframes"`
	Fonts     []AssetRef `toml:"fonts"`
	Sounds    []AssetRef `toml:"sounds"`
	Trackers  []AssetRef `toml:"trackers"`
	Raw       []AssetRef `toml:"raw"`
}

// LoadManifest reads and validates a pack manifest.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	if m.Game.ID == "" {
		return nil, fmt.Errorf("manifest %q: [game].id is required", path)
	}
	if m.Game.MaxPlayers == 0 {
		m.Game.MaxPlayers = 1
	}
	if m.Game.MaxPlayers > 4 {
		return nil, fmt.Errorf("manifest %q: max_players must be 1-4, got %d", path, m.Game.MaxPlayers)
	}
	if m.Game.TickRate != 60 && m.Game.TickRate != 120 {
		m.Game.TickRate = 60
	}
	return &m, nil
}

// ResolveWASMPath finds the sandbox code relative to the manifest's
// directory, honoring an explicit override.
func (m *Manifest) ResolveWASMPath(manifestPath, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if m.Game.WASM != "" {
		return filepath.Join(filepath.Dir(manifestPath), m.Game.WASM), nil
	}
	return "", fmt.Errorf("no wasm path: set [game].wasm in the manifest or pass --wasm")
}

// readAllRefs loads the bytes behind every AssetRef in a slice, relative to dir.
func readAllRefs(dir string, refs []AssetRef) (map[string][]byte, error) {
	out := make(map[string][]byte, len(refs))
	for _, ref := range refs {
		data, err := os.ReadFile(filepath.Join(dir, ref.Path))
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", ref.ID, err)
		}
		out[ref.ID] = data
	}
	return out, nil
}

// BuildRawPack assembles a DataPack's raw-blob section from manifest
// references, leaving format-specific assets (textures, meshes, ...) to
// tooling outside this package's scope (§1 names asset packing CLI
// tooling as only partially in scope: the manifest format and the
// container format are specified, the texture/mesh compressors are not).
func BuildRawPack(manifestPath string, m *Manifest) (*DataPack, error) {
	dir := filepath.Dir(manifestPath)
	blobs, err := readAllRefs(dir, m.Assets.Raw)
	if err != nil {
		return nil, err
	}
	pack := &DataPack{}
	for _, ref := range m.Assets.Raw {
		pack.Raw = append(pack.Raw, RawBlob{ID: ref.ID, Data: blobs[ref.ID]})
	}
	return pack, nil
}
