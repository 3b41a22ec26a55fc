package studio

import "fmt"

// LayoutMode names a policy for arranging sources on the canvas.
type LayoutMode int

const (
	LayoutFullCam    LayoutMode = iota // Camera full canvas
	LayoutFullScreen                   // Screen share / video clip full canvas
	LayoutPIP                          // Screen full canvas, camera corner inset
	LayoutSplit                        // Camera and screen side by side
	LayoutNewsroom                     // Background full canvas, framed camera inset
)

func (m LayoutMode) String() string {
	switch m {
	case LayoutFullCam:
		return "FullCam"
	case LayoutFullScreen:
		return "FullScreen"
	case LayoutPIP:
		return "PIP"
	case LayoutSplit:
		return "Split"
	case LayoutNewsroom:
		return "Newsroom"
	default:
		return "Unknown"
	}
}

// ParseLayoutMode parses a mode name as produced by String.
func ParseLayoutMode(s string) (LayoutMode, error) {
	switch s {
	case "FullCam", "fullcam", "full_cam":
		return LayoutFullCam, nil
	case "FullScreen", "fullscreen", "full_screen":
		return LayoutFullScreen, nil
	case "PIP", "pip":
		return LayoutPIP, nil
	case "Split", "split":
		return LayoutSplit, nil
	case "Newsroom", "newsroom":
		return LayoutNewsroom, nil
	default:
		return LayoutFullCam, fmt.Errorf("unknown layout mode %q", s)
	}
}

// SourceRole identifies the slot a source is bound to on the compositor.
type SourceRole int

const (
	RoleNone       SourceRole = iota // No source: solid fill
	RoleCamera                       // Presenter camera
	RoleScreen                       // Screen share or video clip
	RoleBackground                   // Background image/video
)

func (r SourceRole) String() string {
	switch r {
	case RoleNone:
		return "None"
	case RoleCamera:
		return "Camera"
	case RoleScreen:
		return "Screen"
	case RoleBackground:
		return "Background"
	default:
		return "Unknown"
	}
}

// Rect is a placement rectangle in canvas pixel coordinates.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Within reports whether the rectangle lies inside a w x h canvas.
func (r Rect) Within(w, h int) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= w && r.Y+r.H <= h
}

// SourceSet records which roles currently have a bound source.
type SourceSet struct {
	Camera     bool
	Screen     bool
	Background bool
}

// Has reports whether the given role has a source bound.
func (s SourceSet) Has(role SourceRole) bool {
	switch role {
	case RoleCamera:
		return s.Camera
	case RoleScreen:
		return s.Screen
	case RoleBackground:
		return s.Background
	default:
		return false
	}
}

// Placement assigns one slot of the composited frame: which role paints
// into which rectangle at which z. Slots with Fill set (Role == RoleNone)
// paint a solid color. Framed slots get a border.
type Placement struct {
	Role   SourceRole
	Rect   Rect
	Z      int
	Fill   bool
	Framed bool
}

// Inset geometry. Width percentages are of the canvas width; insets keep
// the canvas aspect ratio and anchor to the bottom-right corner.
const (
	pipInsetPercent      = 20
	newsroomInsetPercent = 40
	insetMargin          = 16
)

// ComputeLayout returns the placement slots for one composited frame,
// ordered lowest z first (painted first).
//
// Absence of a source never fails: the next-priority source is
// substituted, or a solid-fill slot is emitted, so the compositor always
// has a deterministic, renderable plan. Every slot lies within the
// canvas; the returned list is never empty.
func ComputeLayout(mode LayoutMode, width, height int, avail SourceSet) []Placement {
	full := Rect{X: 0, Y: 0, W: width &^ 1, H: height &^ 1}

	switch mode {
	case LayoutFullCam:
		switch {
		case avail.Camera:
			return []Placement{{Role: RoleCamera, Rect: full, Z: 0}}
		case avail.Screen:
			return []Placement{{Role: RoleScreen, Rect: full, Z: 0}}
		}
		return []Placement{{Role: RoleNone, Rect: full, Z: 0, Fill: true}}

	case LayoutFullScreen:
		switch {
		case avail.Screen:
			return []Placement{{Role: RoleScreen, Rect: full, Z: 0}}
		case avail.Camera:
			return []Placement{{Role: RoleCamera, Rect: full, Z: 0}}
		}
		return []Placement{{Role: RoleNone, Rect: full, Z: 0, Fill: true}}

	case LayoutPIP:
		switch {
		case avail.Screen && avail.Camera:
			return []Placement{
				{Role: RoleScreen, Rect: full, Z: 0},
				{Role: RoleCamera, Rect: cornerInset(full.W, full.H, pipInsetPercent), Z: 1},
			}
		case avail.Screen:
			return []Placement{{Role: RoleScreen, Rect: full, Z: 0}}
		case avail.Camera:
			return []Placement{{Role: RoleCamera, Rect: full, Z: 0}}
		}
		return []Placement{{Role: RoleNone, Rect: full, Z: 0, Fill: true}}

	case LayoutSplit:
		switch {
		case avail.Camera && avail.Screen:
			leftW := (full.W / 2) &^ 1
			return []Placement{
				{Role: RoleCamera, Rect: Rect{X: 0, Y: 0, W: leftW, H: full.H}, Z: 0},
				{Role: RoleScreen, Rect: Rect{X: leftW, Y: 0, W: full.W - leftW, H: full.H}, Z: 0},
			}
		case avail.Camera:
			return []Placement{{Role: RoleCamera, Rect: full, Z: 0}}
		case avail.Screen:
			return []Placement{{Role: RoleScreen, Rect: full, Z: 0}}
		}
		return []Placement{{Role: RoleNone, Rect: full, Z: 0, Fill: true}}

	case LayoutNewsroom:
		inset := cornerInset(full.W, full.H, newsroomInsetPercent)
		switch {
		case avail.Background && avail.Camera:
			return []Placement{
				{Role: RoleBackground, Rect: full, Z: 0},
				{Role: RoleCamera, Rect: inset, Z: 1, Framed: true},
			}
		case avail.Background:
			return []Placement{{Role: RoleBackground, Rect: full, Z: 0}}
		case avail.Camera:
			// No background set: behave like PIP against a solid fill.
			return []Placement{
				{Role: RoleNone, Rect: full, Z: 0, Fill: true},
				{Role: RoleCamera, Rect: inset, Z: 1, Framed: true},
			}
		}
		return []Placement{{Role: RoleNone, Rect: full, Z: 0, Fill: true}}
	}

	return []Placement{{Role: RoleNone, Rect: full, Z: 0, Fill: true}}
}

// cornerInset computes a bottom-right inset occupying the given
// percentage of the canvas width at the canvas aspect ratio. Offsets and
// sizes are rounded to even for chroma alignment.
func cornerInset(width, height, percent int) Rect {
	iw := (width * percent / 100) &^ 1
	if iw < 2 {
		iw = 2
	}
	ih := (iw * height / width) &^ 1
	if ih < 2 {
		ih = 2
	}
	x := (width - iw - insetMargin) &^ 1
	if x < 0 {
		x = 0
	}
	y := (height - ih - insetMargin) &^ 1
	if y < 0 {
		y = 0
	}
	return Rect{X: x, Y: y, W: iw, H: ih}
}

// DeriveLayoutSuggestion maps an asset selection to the layout mode the
// studio should switch to. Picking a background while showing only the
// camera suggests the newsroom layout; picking a video clip suggests
// showing it full screen. Every other selection keeps the current mode.
func DeriveLayoutSuggestion(current LayoutMode, kind SourceKind) LayoutMode {
	if current != LayoutFullCam {
		return current
	}
	switch kind {
	case SourceKindBackground:
		return LayoutNewsroom
	case SourceKindVideo:
		return LayoutFullScreen
	default:
		return current
	}
}
