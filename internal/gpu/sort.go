package gpu

import "sort"

// sortRank orders commands sky-first, mesh-next, quad-last (§4.E step
// 5: "Sky sorts first; opaque mesh next; quads last").
func sortRank(kind CommandKind) int {
	switch kind {
	case CommandSky:
		return 0
	case CommandMesh:
		return 1
	default: // CommandQuad
		return 2
	}
}

// SortCommands orders a frame's commands by
// (viewport, stencil_mode, render_type, depth, cull, blend, texture_tuple),
// per §4.E step 5. The sort is stable so repeated sorts of an
// already-sorted slice are idempotent (§8).
func SortCommands(commands []Command) {
	sort.SliceStable(commands, func(i, j int) bool {
		a, b := commands[i], commands[j]
		if a.Viewport != b.Viewport {
			return a.Viewport < b.Viewport
		}
		if a.StencilMode != b.StencilMode {
			return a.StencilMode < b.StencilMode
		}
		if ra, rb := sortRank(a.Kind), sortRank(b.Kind); ra != rb {
			return ra < rb
		}
		if a.Depth != b.Depth {
			return !a.Depth && b.Depth
		}
		if a.Cull != b.Cull {
			return a.Cull < b.Cull
		}
		if a.Blend != b.Blend {
			return a.Blend < b.Blend
		}
		return textureTupleLess(a.Textures, b.Textures)
	})
}

// textureTupleLess orders by raw handle id, slot by slot (§4.E:
// "Texture ordering is by raw handle ID (stable but arbitrary)").
func textureTupleLess(a, b TextureTuple) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
