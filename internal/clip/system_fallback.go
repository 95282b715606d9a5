//go:build !cgo || !(darwin || linux || windows)

package clip

// System returns a memory clipboard on platforms without a supported system
// clipboard backend (or when built without cgo).
func System() Source {
	return NewMemory("headless")
}
